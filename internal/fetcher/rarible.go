package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"floorwatch/internal/domain"
)

const (
	raribleSearchPath = "/items/search"
	defaultPageSize   = 100
	defaultAttempts   = 3
	metadataWorkers   = 8
)

// RaribleOptions parameterise the Rarible marketplace fetcher.
type RaribleOptions struct {
	BaseURL         string
	Collection      domain.Collection
	PageSize        int
	Timeout         time.Duration
	MetadataTimeout time.Duration
	Origin          string
	ItemBaseURL     string
	OpenSeaBaseURL  string
	IPFSGateway     string
	Attempts        int
	Backoff         time.Duration
	UserAgent       string
}

// Rarible searches the Rarible marketplace for active listings.
type Rarible struct {
	opts    RaribleOptions
	logger  zerolog.Logger
	client  *http.Client
	meta    *http.Client
	baseURL string
}

// NewRarible constructs a marketplace fetcher.
func NewRarible(opts RaribleOptions, logger zerolog.Logger) *Rarible {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	metaTimeout := opts.MetadataTimeout
	if metaTimeout <= 0 {
		metaTimeout = 5 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Origin == "" {
		opts.Origin = "https://og.rarible.com"
	}
	if opts.ItemBaseURL == "" {
		opts.ItemBaseURL = "https://og.rarible.com/token"
	}
	if opts.OpenSeaBaseURL == "" {
		opts.OpenSeaBaseURL = "https://opensea.io/item/polygon"
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://og.rarible.com/marketplace/api/v4"
	}

	return &Rarible{
		opts:    opts,
		logger:  logger.With().Str("component", "rarible_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		meta:    &http.Client{Timeout: metaTimeout},
		baseURL: baseURL,
	}
}

// SearchListings pages through the collection's listings, cheapest first.
func (r *Rarible) SearchListings(ctx context.Context, pages int) ([]domain.Listing, error) {
	if pages <= 0 {
		pages = 1
	}

	var (
		items        []raribleItem
		continuation string
	)
	for page := 0; page < pages; page++ {
		res, err := r.search(ctx, r.searchRequest(r.opts.PageSize, continuation, ""))
		if err != nil {
			if len(items) > 0 {
				// keep the pages we already have
				r.logger.Warn().Err(err).Int("page", page).Msg("listing search stopped early")
				break
			}
			return nil, err
		}
		items = append(items, res.Items...)
		continuation = res.Continuation
		if continuation == "" || len(res.Items) == 0 {
			break
		}
	}

	return r.toListings(ctx, items, ""), nil
}

// CheapestByRarity returns the size cheapest listings carrying the given rarity trait.
func (r *Rarible) CheapestByRarity(ctx context.Context, rarity domain.Rarity, size int) ([]domain.Listing, error) {
	if !rarity.Valid() {
		return nil, domain.ErrUnknownRarity
	}
	if size <= 0 {
		size = 1
	}

	res, err := r.search(ctx, r.searchRequest(size, "", rarity))
	if err != nil {
		return nil, err
	}
	if len(res.Items) > size {
		res.Items = res.Items[:size]
	}

	listings := r.toListings(ctx, res.Items, rarity)
	out := listings[:0]
	for _, l := range listings {
		if l.Rarity == rarity {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", rarity, ErrNoListings)
	}
	return out, nil
}

func (r *Rarible) searchRequest(size int, continuation string, rarity domain.Rarity) searchRequest {
	req := searchRequest{
		Size:         size,
		Continuation: continuation,
		Filter: searchFilter{
			Sort:               "LOW_PRICE_FIRST",
			Collections:        []string{r.opts.Collection.String()},
			Blockchains:        []string{r.opts.Collection.Blockchain},
			HideItemsSupply:    "HIDE_LAZY_SUPPLY",
			NSFW:               true,
			HasMetaContentOnly: false,
		},
	}
	if rarity != "" {
		req.Filter.Traits = []traitFilter{{Key: "Rarity", Values: []string{rarity.String()}}}
	}
	return req
}

func (r *Rarible) search(ctx context.Context, payload searchRequest) (searchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return searchResponse{}, err
	}

	var lastErr error
	for attempt := 0; attempt < r.opts.Attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.opts.Backoff*time.Duration(attempt)); err != nil {
				return searchResponse{}, err
			}
		}

		res, err := r.post(ctx, body)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return searchResponse{}, ctx.Err()
		}
		lastErr = err
		r.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("marketplace search failed")
	}
	return searchResponse{}, fmt.Errorf("marketplace search after %d attempts: %w", r.opts.Attempts, lastErr)
}

func (r *Rarible) post(ctx context.Context, body []byte) (searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+raribleSearchPath, bytes.NewReader(body))
	if err != nil {
		return searchResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", r.opts.Origin)
	req.Header.Set("Referer", strings.TrimRight(r.opts.Origin, "/")+"/winkdiscover/items")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "floorwatch/1.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return searchResponse{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return searchResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return searchResponse{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res searchResponse
	// some deployments answer with a bare item array
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &res.Items)
	} else {
		err = json.Unmarshal(payload, &res)
	}
	if err != nil {
		return searchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return res, nil
}

// toListings decodes items, consulting the metadata document for items whose
// rarity or image is not present in the marketplace payload.
func (r *Rarible) toListings(ctx context.Context, items []raribleItem, hint domain.Rarity) []domain.Listing {
	decoded := make([]decodedItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataWorkers)
	for i := range items {
		g.Go(func() error {
			d := decodeItem(items[i], r.opts.IPFSGateway)
			if d.rarity == "" && hint != "" {
				d.rarity = hint.String()
			}
			if d.needsMetadata() && items[i].Meta.MetadataURI != "" {
				md, err := r.fetchMetadata(gctx, items[i].Meta.MetadataURI)
				if err != nil {
					r.logger.Debug().Err(err).Str("item_id", items[i].ID).Msg("metadata unavailable")
				} else {
					d.merge(md, r.opts.IPFSGateway)
				}
			}
			decoded[i] = d
			return nil
		})
	}
	_ = g.Wait()

	prefix := r.opts.Collection.ItemPrefix()
	native := r.opts.Collection.NativeCurrency()
	listings := make([]domain.Listing, 0, len(decoded))
	for i, d := range decoded {
		item := items[i]
		if !strings.HasPrefix(strings.ToLower(item.ID), strings.ToLower(prefix)) {
			continue
		}
		listing, ok := d.listing(item)
		if !ok {
			r.logger.Debug().Str("item_id", item.ID).Msg("item skipped: no active price or known rarity")
			continue
		}
		if listing.Currency != native {
			r.logger.Debug().Str("item_id", item.ID).Str("currency", listing.Currency).Msg("item skipped: not priced in the native currency")
			continue
		}
		listing.RaribleURL = strings.TrimRight(r.opts.ItemBaseURL, "/") + "/" + item.ID
		if item.TokenID != "" {
			listing.OpenSeaURL = strings.TrimRight(r.opts.OpenSeaBaseURL, "/") + "/" +
				strings.ToLower(r.opts.Collection.Address.Hex()) + "/" + item.TokenID
		}
		listings = append(listings, listing)
	}
	return listings
}

func (r *Rarible) fetchMetadata(ctx context.Context, uri string) (metadataDocument, error) {
	url := domain.NormalizeMediaURL(uri, r.opts.IPFSGateway)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return metadataDocument{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.meta.Do(req)
	if err != nil {
		return metadataDocument{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return metadataDocument{}, fmt.Errorf("metadata status %d", resp.StatusCode)
	}

	var doc metadataDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return metadataDocument{}, err
	}
	return doc, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("marketplace api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("marketplace api error (%d)", status)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ ListingFetcher = (*Rarible)(nil)
