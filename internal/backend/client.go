// Package backend is the HTTP client for the meeting backend: transcript
// record, speaker corrections and summary generation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hainguyenvie/vmeeting/internal/summary"
	"github.com/hainguyenvie/vmeeting/internal/transcript"
)

// Error is a non-2xx backend response.
type Error struct {
	Op     string
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend: %s: status=%d body=%s", e.Op, e.Status, e.Body)
}

// Client talks to the meeting backend over HTTP. The zero-value HTTPClient
// is replaced with a 15s-timeout client; summary generation gets a longer
// per-call budget because model inference is slow.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

const summaryTimeout = 120 * time.Second

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// transcriptRow is the backend's transcript record shape.
type transcriptRow struct {
	ID             string   `json:"id"`
	MeetingID      string   `json:"meeting_id"`
	Transcript     string   `json:"transcript"`
	Timestamp      string   `json:"timestamp"`
	Speaker        string   `json:"speaker"`
	AudioStartTime *float64 `json:"audio_start_time"`
	AudioEndTime   *float64 `json:"audio_end_time"`
}

// GetTranscripts fetches the durable transcript record for a meeting.
func (c *Client) GetTranscripts(ctx context.Context, meetingID string) ([]transcript.Segment, error) {
	endpoint := c.BaseURL + "/get-transcripts/" + url.PathEscape(meetingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: get transcripts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readError("get transcripts", resp)
	}
	var rows []transcriptRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("backend: decode transcripts: %w", err)
	}
	segs := make([]transcript.Segment, 0, len(rows))
	for _, row := range rows {
		segs = append(segs, transcript.Segment{
			ID:         row.ID,
			MeetingID:  row.MeetingID,
			SpeakerID:  row.Speaker,
			Text:       row.Transcript,
			Timestamp:  row.Timestamp,
			AudioStart: row.AudioStartTime,
			AudioEnd:   row.AudioEndTime,
		})
	}
	return segs, nil
}

type renameRequest struct {
	MeetingID string `json:"meeting_id"`
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
}

// RenameSpeaker propagates a rename correction.
func (c *Client) RenameSpeaker(ctx context.Context, meetingID, oldName, newName string) error {
	return c.postJSON(ctx, "rename speaker", "/rename-speaker",
		renameRequest{MeetingID: meetingID, OldName: oldName, NewName: newName}, nil)
}

type mergeRequest struct {
	MeetingID   string `json:"meeting_id"`
	FromSpeaker string `json:"from_speaker"`
	ToSpeaker   string `json:"to_speaker"`
}

// MergeSpeakers propagates a merge correction.
func (c *Client) MergeSpeakers(ctx context.Context, meetingID, fromSpeaker, toSpeaker string) error {
	return c.postJSON(ctx, "merge speakers", "/merge-speakers",
		mergeRequest{MeetingID: meetingID, FromSpeaker: fromSpeaker, ToSpeaker: toSpeaker}, nil)
}

// GenerateSummary runs a summary generation round trip.
func (c *Client) GenerateSummary(ctx context.Context, req summary.Request) (summary.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()
	var res summary.Result
	if err := c.postJSON(ctx, "generate summary", "/generate", req, &res); err != nil {
		return summary.Result{}, err
	}
	return res, nil
}

// postJSON sends a JSON POST and optionally decodes the response into out.
func (c *Client) postJSON(ctx context.Context, op, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", op, err)
	}
	return nil
}

func readError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &Error{Op: op, Status: resp.StatusCode, Body: string(b)}
}
