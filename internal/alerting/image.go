package alerting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"floorwatch/internal/domain"
)

// maxImageBytes caps downloads at the Bot API photo upload limit.
const maxImageBytes = 10 << 20

// ImageResolver downloads the image shown with an alert.
type ImageResolver interface {
	Resolve(ctx context.Context, url string) ([]byte, error)
}

// HTTPImageResolver fetches images over HTTP and retries IPFS content through a public gateway.
type HTTPImageResolver struct {
	client  *http.Client
	gateway string
	logger  zerolog.Logger
}

// NewHTTPImageResolver builds an image resolver.
func NewHTTPImageResolver(timeout time.Duration, gateway string, logger zerolog.Logger) *HTTPImageResolver {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPImageResolver{
		client:  &http.Client{Timeout: timeout},
		gateway: gateway,
		logger:  logger.With().Str("component", "image_resolver").Logger(),
	}
}

// Resolve downloads url, trying the gateway copy when the direct fetch fails.
func (r *HTTPImageResolver) Resolve(ctx context.Context, url string) ([]byte, error) {
	target := domain.NormalizeMediaURL(url, r.gateway)
	body, err := r.fetch(ctx, target)
	if err == nil {
		return body, nil
	}

	alt, ok := domain.IPFSFallbackURL(url, r.gateway)
	if !ok || alt == target {
		return nil, err
	}
	r.logger.Debug().Err(err).Str("url", target).Str("fallback", alt).Msg("retrying image via gateway")

	body, altErr := r.fetch(ctx, alt)
	if altErr != nil {
		return nil, fmt.Errorf("fetch image: %w (gateway: %v)", err, altErr)
	}
	return body, nil
}

func (r *HTTPImageResolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("image body empty")
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return body, nil
}

var _ ImageResolver = (*HTTPImageResolver)(nil)
