package progressmodule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/juniorrony/torrenstream-sub000/internal/database"
)

// HTTPProgressStore talks to the remote progress storage API over HTTP.
type HTTPProgressStore struct {
	baseURL string
	client  *http.Client
	logger  hclog.Logger
}

// NewHTTPProgressStore creates a client for the remote progress store.
func NewHTTPProgressStore(baseURL string, timeout time.Duration, logger hclog.Logger) *HTTPProgressStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProgressStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("remote-progress"),
	}
}

// Get fetches the remote record for a media item.
func (s *HTTPProgressStore) Get(ctx context.Context, userID, mediaID string) (*database.WatchProgressRecord, error) {
	endpoint := fmt.Sprintf("%s/api/progress/%s/%s", s.baseURL, url.PathEscape(userID), url.PathEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote progress get failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var record database.WatchProgressRecord
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode progress record: %w", err)
		}
		return &record, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("remote progress get: unexpected status %d", resp.StatusCode)
	}
}

// Upsert writes the record remotely. The remote store applies
// last-write-wins by UpdatedAtMs, so replays are harmless.
func (s *HTTPProgressStore) Upsert(ctx context.Context, record *database.WatchProgressRecord) error {
	endpoint := fmt.Sprintf("%s/api/progress/%s/%s", s.baseURL,
		url.PathEscape(record.UserID), url.PathEscape(record.MediaID))

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode progress record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote progress upsert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remote progress upsert: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Delete removes the remote record for a media item.
func (s *HTTPProgressStore) Delete(ctx context.Context, userID, mediaID string) error {
	endpoint := fmt.Sprintf("%s/api/progress/%s/%s", s.baseURL, url.PathEscape(userID), url.PathEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote progress delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("remote progress delete: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ListContinueWatching fetches the remote continue-watching list.
func (s *HTTPProgressStore) ListContinueWatching(ctx context.Context, userID string, limit int) ([]database.WatchProgressRecord, error) {
	endpoint := fmt.Sprintf("%s/api/progress/%s/continue-watching?limit=%s",
		s.baseURL, url.PathEscape(userID), strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote continue-watching list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote continue-watching list: unexpected status %d", resp.StatusCode)
	}

	var records []database.WatchProgressRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode continue-watching list: %w", err)
	}
	return records, nil
}

// Ping probes the remote store's health endpoint.
func (s *HTTPProgressStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote progress store unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("remote progress store unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
