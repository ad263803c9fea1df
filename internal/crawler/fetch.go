package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"
)

// Fetcher is the shared rate-limited HTTP helper used by all source
// crawlers. It retries transient failures and honours the crawl context.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	config  *Config
}

// NewFetcher creates a fetcher from config. A nil config selects defaults.
func NewFetcher(config *Config) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}
	return &Fetcher{
		client:  &http.Client{Timeout: config.DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		config:  config,
	}
}

// Get fetches url and returns the response body. Non-2xx statuses and
// transport errors are retried up to the configured attempt count.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			log.Warn().
				Str("url", url).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("Retrying fetch")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.config.RetryDelay):
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := f.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", f.config.RetryAttempts+1, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// DecodeWindows1250 converts a windows-1250 byte stream, the encoding the
// older chains still publish their CSV files in, to UTF-8.
func DecodeWindows1250(data []byte) ([]byte, error) {
	decoded, _, err := transform.Bytes(charmap.Windows1250.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode windows-1250 payload: %w", err)
	}
	return decoded, nil
}
