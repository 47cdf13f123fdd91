package fetcher

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"floorwatch/internal/domain"
)

// native order amounts are expressed in wei-like atoms
const nativeDecimals = 18

type searchRequest struct {
	Size         int          `json:"size"`
	Continuation string       `json:"continuation,omitempty"`
	Filter       searchFilter `json:"filter"`
}

type searchFilter struct {
	VerifiedOnly       bool          `json:"verifiedOnly"`
	Sort               string        `json:"sort"`
	Collections        []string      `json:"collections"`
	Blockchains        []string      `json:"blockchains"`
	HideItemsSupply    string        `json:"hideItemsSupply"`
	NSFW               bool          `json:"nsfw"`
	HasMetaContentOnly bool          `json:"hasMetaContentOnly"`
	Traits             []traitFilter `json:"traits,omitempty"`
}

type traitFilter struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

type searchResponse struct {
	Items        []raribleItem `json:"items"`
	Continuation string        `json:"continuation"`
}

type raribleItem struct {
	ID         string `json:"id"`
	Blockchain string `json:"blockchain"`
	TokenID    string `json:"tokenId"`
	Name       string `json:"name"`
	Properties struct {
		Name         string       `json:"name"`
		MediaEntries []mediaEntry `json:"mediaEntries"`
		Attributes   []attribute  `json:"attributes"`
	} `json:"properties"`
	Meta struct {
		Name            string        `json:"name"`
		MetadataURI     string        `json:"metadataUri"`
		OriginalMetaURI string        `json:"originalMetaUri"`
		Content         []metaContent `json:"content"`
	} `json:"meta"`
	BestSellOrder *sellOrder `json:"bestSellOrder"`
}

type mediaEntry struct {
	ContentType string `json:"contentType"`
	SizeType    string `json:"sizeType"`
	URL         string `json:"url"`
}

type metaContent struct {
	Type           string `json:"@type"`
	Representation string `json:"representation"`
	URL            string `json:"url"`
}

type attribute struct {
	Key       string `json:"key"`
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

type sellOrder struct {
	Price     json.RawMessage `json:"price"`
	TakePrice json.RawMessage `json:"takePrice"`
	MakePrice json.RawMessage `json:"makePrice"`
	Take      struct {
		AssetType struct {
			AssetClass string `json:"assetClass"`
		} `json:"assetType"`
		Value json.RawMessage `json:"value"`
	} `json:"take"`
}

type metadataDocument struct {
	Name         string       `json:"name"`
	Title        string       `json:"title"`
	Image        string       `json:"image"`
	ImageURL     string       `json:"image_url"`
	ImageURI     string       `json:"imageURI"`
	MediaEntries []mediaEntry `json:"mediaEntries"`
	Attributes   []attribute  `json:"attributes"`
}

type decodedItem struct {
	name    string
	rarity  string
	image   string
	preview string
}

func decodeItem(item raribleItem, gateway string) decodedItem {
	d := decodedItem{
		name:    firstNonEmpty(item.Properties.Name, item.Meta.Name, item.Name),
		rarity:  rarityAttribute(item.Properties.Attributes),
		image:   preferredMedia(item.Properties.MediaEntries, "ORIGINAL", "BIG", "PREVIEW"),
		preview: preferredMedia(item.Properties.MediaEntries, "PREVIEW"),
	}
	if d.image == "" {
		for _, e := range item.Properties.MediaEntries {
			if e.URL != "" {
				d.image = e.URL
				break
			}
		}
	}
	if d.image == "" {
		d.image = preferredContent(item.Meta.Content)
	}
	if d.image == "" {
		d.image = item.Meta.OriginalMetaURI
	}

	d.image = domain.NormalizeMediaURL(d.image, gateway)
	d.preview = domain.NormalizeMediaURL(d.preview, gateway)
	return d
}

func (d decodedItem) needsMetadata() bool {
	return d.rarity == "" || d.image == ""
}

func (d *decodedItem) merge(doc metadataDocument, gateway string) {
	if d.name == "" {
		d.name = firstNonEmpty(doc.Name, doc.Title)
	}
	if d.rarity == "" {
		d.rarity = rarityAttribute(doc.Attributes)
	}
	image := firstNonEmpty(
		preferredMedia(doc.MediaEntries, "ORIGINAL", "BIG", "PREVIEW"),
		doc.Image, doc.ImageURL, doc.ImageURI,
	)
	image = domain.NormalizeMediaURL(image, gateway)
	if d.image == "" {
		d.image = image
	}
	if d.preview == "" {
		d.preview = image
	}
}

// listing builds the observation; ok is false for items without an active
// positive price or a known rarity.
func (d decodedItem) listing(item raribleItem) (domain.Listing, bool) {
	if item.BestSellOrder == nil {
		return domain.Listing{}, false
	}
	rarity, err := domain.ParseRarity(d.rarity)
	if err != nil {
		return domain.Listing{}, false
	}
	price, ok := orderPrice(item.BestSellOrder)
	if !ok || !price.IsPositive() {
		return domain.Listing{}, false
	}

	return domain.Listing{
		ID:         item.ID,
		TokenID:    item.TokenID,
		Name:       d.name,
		Rarity:     rarity,
		Price:      price,
		Currency:   currencySymbol(item.BestSellOrder.Take.AssetType.AssetClass, item.Blockchain),
		ImageURL:   d.image,
		PreviewURL: d.preview,
	}, true
}

func orderPrice(o *sellOrder) (decimal.Decimal, bool) {
	for _, raw := range []json.RawMessage{o.Price, o.TakePrice, o.MakePrice} {
		if v, ok := parseAmount(raw); ok {
			return v, true
		}
	}
	atoms, ok := parseAmount(o.Take.Value)
	if !ok {
		return decimal.Decimal{}, false
	}
	return atoms.Shift(-nativeDecimals), true
}

// parseAmount accepts both quoted and bare JSON numbers.
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, false
	}
	s := strings.Trim(string(raw), `"`)
	if s == "" {
		return decimal.Decimal{}, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return v, true
}

func currencySymbol(assetClass, blockchain string) string {
	switch class := strings.ToUpper(assetClass); class {
	case "ETH", "NATIVE":
		if strings.EqualFold(blockchain, "POLYGON") {
			return "MATIC"
		}
		return "ETH"
	default:
		return class
	}
}

func rarityAttribute(attrs []attribute) string {
	for _, a := range attrs {
		key := a.Key
		if key == "" {
			key = a.TraitType
		}
		if !strings.EqualFold(key, "rarity") {
			continue
		}
		if v, ok := a.Value.(string); ok {
			return v
		}
		return ""
	}
	return ""
}

func preferredMedia(entries []mediaEntry, sizes ...string) string {
	for _, size := range sizes {
		for _, e := range entries {
			if strings.EqualFold(e.ContentType, "IMAGE") && strings.EqualFold(e.SizeType, size) && e.URL != "" {
				return e.URL
			}
		}
	}
	return ""
}

func preferredContent(contents []metaContent) string {
	for _, rep := range []string{"ORIGINAL", "BIG", "PREVIEW", "PORTRAIT"} {
		for _, c := range contents {
			if strings.EqualFold(c.Type, "IMAGE") && strings.EqualFold(c.Representation, rep) && c.URL != "" {
				return c.URL
			}
		}
	}
	for _, c := range contents {
		if c.URL != "" {
			return c.URL
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
