// Package source downloads the published bblfr dataset and unwraps it into a
// dataset.Dataset.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/logger"
)

const maxPayloadBytes = 32 << 20

// Fetcher downloads the raw source payload over HTTP. It does not retry: a
// failed fetch fails the run.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher whose requests time out after timeout. A zero
// timeout leaves requests bounded only by the caller's context.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the body of url as text. Network failures and non-2xx
// answers wrap ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: building request for %s: %w", apperrors.ErrFetch, url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperrors.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("%w: %s answered %d", apperrors.ErrFetch, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", apperrors.ErrFetch, url, err)
	}
	if len(data) > maxPayloadBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", apperrors.ErrFetch, url, maxPayloadBytes)
	}
	f.log(ctx).Info("source fetched",
		"url", url,
		"bytes", len(data),
	)
	return string(data), nil
}

func (f *Fetcher) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx).With("component", "source")
}
