package streamingmodule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// HTTPSessionBackend talks to the peer-transfer/streaming backend over
// HTTP: adaptive session negotiation, teardown, direct byte-range URL
// resolution, and manifest retrieval.
type HTTPSessionBackend struct {
	baseURL         string
	client          *http.Client
	manifestTimeout time.Duration
	logger          hclog.Logger
}

// NewHTTPSessionBackend creates a backend client.
func NewHTTPSessionBackend(baseURL string, negotiateTimeout, manifestTimeout time.Duration, logger hclog.Logger) *HTTPSessionBackend {
	if negotiateTimeout <= 0 {
		negotiateTimeout = 15 * time.Second
	}
	if manifestTimeout <= 0 {
		manifestTimeout = 10 * time.Second
	}
	return &HTTPSessionBackend{
		baseURL:         baseURL,
		client:          &http.Client{Timeout: negotiateTimeout},
		manifestTimeout: manifestTimeout,
		logger:          logger.Named("session-backend"),
	}
}

// OpenSession asks the backend for an adaptive session. A 202 response
// means the source is not yet materialized enough; that is reported as a
// NotReady outcome, not an error.
func (b *HTTPSessionBackend) OpenSession(ctx context.Context, sourceID string, fileIndex int) (*SessionOffer, error) {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/%d", b.baseURL, url.PathEscape(sourceID), fileIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session negotiation failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var offer SessionOffer
		if err := json.NewDecoder(resp.Body).Decode(&offer); err != nil {
			return nil, fmt.Errorf("failed to decode session offer: %w", err)
		}
		if offer.Outcome == "" {
			offer.Outcome = OutcomeStarted
		}
		return &offer, nil
	case http.StatusAccepted:
		return &SessionOffer{Outcome: OutcomeNotReady}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SessionOffer{
			Outcome: OutcomeFailed,
			Reason:  fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
		}, nil
	}
}

// CloseSession notifies the backend teardown endpoint.
func (b *HTTPSessionBackend) CloseSession(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/sessions/%s", b.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("session teardown failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("session teardown: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// DirectURL resolves the byte-range-seekable delivery URL for a file.
func (b *HTTPSessionBackend) DirectURL(sourceID string, fileIndex int) string {
	return b.baseURL + "/api/stream/" + url.PathEscape(sourceID) + "/" + strconv.Itoa(fileIndex)
}

// FetchManifest retrieves a manifest document.
func (b *HTTPSessionBackend) FetchManifest(ctx context.Context, manifestURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.manifestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return data, nil
}
