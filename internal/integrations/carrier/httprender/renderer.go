// Package httprender fetches carrier pages that render server-side, or a
// carrier emulator, without a browser.
package httprender

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BearBump/parcelwatch/internal/integrations/carrier"
	"github.com/pkg/errors"
)

const maxBodyBytes = 4 << 20

type Renderer struct {
	userAgent string
	httpc     *http.Client
}

func New(userAgent string) *Renderer {
	return &Renderer{
		userAgent: userAgent,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Render ignores WaitSelector: the response body is the final document.
func (r *Renderer) Render(ctx context.Context, req carrier.RenderRequest) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")
	if r.userAgent != "" {
		httpReq.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpc.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &carrier.ScrapeError{Kind: carrier.KindNotFound, Err: fmt.Errorf("carrier http %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &carrier.ScrapeError{Kind: carrier.KindCarrierUnavailable, Err: fmt.Errorf("carrier rate limit (429)")}
	case resp.StatusCode/100 != 2:
		return "", &carrier.ScrapeError{Kind: carrier.KindCarrierUnavailable, Err: fmt.Errorf("carrier http %d", resp.StatusCode)}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "read body")
	}
	return string(b), nil
}
