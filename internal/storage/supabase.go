// Package storage archives meeting artifacts (raw audio, transcript and
// summary exports) to Supabase object storage over its REST API.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Supabase is a minimal object-storage client. Only the operations the
// meeting flow needs are implemented.
type Supabase struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
	Client     *http.Client
}

// NewSupabase constructs a storage client for one bucket.
func NewSupabase(baseURL, serviceKey, bucket string) *Supabase {
	return &Supabase{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		Bucket:     bucket,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether the client has enough configuration to run.
// Archival is optional; an unconfigured client is skipped, not an error.
func (s *Supabase) Configured() bool {
	return s.BaseURL != "" && s.ServiceKey != "" && s.Bucket != ""
}

// Upload stores an object, overwriting any previous version of the key.
func (s *Supabase) Upload(ctx context.Context, objectKey, contentType string, body []byte) error {
	if !s.Configured() {
		return fmt.Errorf("storage: missing supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}

	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.BaseURL, s.Bucket, objectKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("storage: build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "3600")
	req.Header.Set("x-upsert", "true")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", objectKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("storage: upload %s: status %d", objectKey, resp.StatusCode)
	}
	return nil
}

// Download fetches an object.
func (s *Supabase) Download(ctx context.Context, objectKey string) ([]byte, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("storage: missing supabase configuration")
	}
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.BaseURL, s.Bucket, objectKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.ServiceKey)

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: download %s: %w", objectKey, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: download %s: status %d", objectKey, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// MeetingObjectKey builds the canonical object path for a meeting artifact.
func MeetingObjectKey(meetingID, name string) string {
	return fmt.Sprintf("meetings/%s/%s", meetingID, name)
}
