package domain

import "strings"

// DefaultIPFSGateway is the public gateway used for ipfs:// content.
const DefaultIPFSGateway = "https://ipfs.io/ipfs/"

// NormalizeMediaURL trims stray quoting and rewrites ipfs:// URIs onto gateway.
func NormalizeMediaURL(uri, gateway string) string {
	s := strings.TrimSpace(strings.Trim(strings.TrimSpace(uri), "`"))
	if cid, ok := strings.CutPrefix(s, "ipfs://"); ok {
		return gatewayURL(gateway, strings.TrimPrefix(cid, "ipfs/"))
	}
	return s
}

// IPFSFallbackURL rewrites ipfs:// URIs and pinned IPFS links onto gateway.
// The bool is false when uri does not reference IPFS content.
func IPFSFallbackURL(uri, gateway string) (string, bool) {
	s := strings.TrimSpace(uri)
	if cid, ok := strings.CutPrefix(s, "ipfs://"); ok {
		return gatewayURL(gateway, strings.TrimPrefix(cid, "ipfs/")), true
	}
	if !strings.Contains(s, "ipfs.raribleuserdata.com/ipfs/") {
		return "", false
	}
	_, cid, _ := strings.Cut(s, "/ipfs/")
	if cid == "" {
		return "", false
	}
	return gatewayURL(gateway, cid), true
}

func gatewayURL(gateway, cid string) string {
	if gateway == "" {
		gateway = DefaultIPFSGateway
	}
	return strings.TrimRight(gateway, "/") + "/" + cid
}
