package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bassnotion/assetcache/internal/config"
	"github.com/bassnotion/assetcache/pkg/errors"
	"github.com/bassnotion/assetcache/pkg/utils"
)

// HTTPFetcher loads assets from a CDN over plain HTTP(S). It satisfies
// types.AssetFetcher.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	headers map[string]string
	logger  *utils.StructuredLogger
}

// NewHTTPFetcher builds a CDN fetcher. Per-request deadlines come from
// the caller's context; the client timeout is only a hard upper bound.
func NewHTTPFetcher(cfg config.HTTPConfig, logger *utils.StructuredLogger) (*HTTPFetcher, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "http base_url cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid http base_url", err)
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: cfg.BaseURL,
		headers: cfg.Headers,
		logger:  logger.WithField("component", "http-fetcher"),
	}, nil
}

// Fetch implements types.AssetFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	assetURL, err := url.JoinPath(f.baseURL, key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "invalid asset key", err).
			WithContext("key", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "failed to build request", err)
	}
	for name, value := range f.headers {
		req.Header.Set(name, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeFetchTimeout, "cdn fetch canceled", err).
				WithContext("url", assetURL)
		}
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "cdn fetch failed", err).
			WithContext("url", assetURL)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(errors.ErrCodeAssetNotFound, "asset not found at origin").
			WithContext("url", assetURL)
	case resp.StatusCode >= 500:
		return nil, errors.New(errors.ErrCodeOriginDegraded,
			fmt.Sprintf("origin returned %d", resp.StatusCode)).
			WithContext("url", assetURL)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.New(errors.ErrCodeFetchFailed,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithContext("url", assetURL)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "cdn body read failed", err).
			WithContext("url", assetURL)
	}
	if len(payload) == 0 {
		return nil, errors.New(errors.ErrCodeAssetNotFound, "origin returned empty body").
			WithContext("url", assetURL)
	}

	f.logger.Debug("fetched asset", map[string]interface{}{
		"url":  assetURL,
		"size": len(payload),
	})
	return payload, nil
}
