// Package devserver is a self-contained stand-in for the meeting backend:
// audio ingress, fabricated transcription, transcript record and canned
// summaries. It exists so the client can be developed and demoed offline.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hainguyenvie/vmeeting/internal/summary"
	"github.com/hainguyenvie/vmeeting/internal/transcript"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// local development only
		return true
	},
}

// cannedPhrases rotate through fabricated transcription output.
var cannedPhrases = []string{
	"Xin chào các bạn, chúng ta bắt đầu nhé",
	"Hôm nay chúng ta điểm qua tiến độ của tuần",
	"Phần backend đã xong, còn thiếu phần giao diện",
	"Tuần sau chúng ta sẽ demo cho khách hàng",
	"Có ai còn câu hỏi gì nữa không",
}

// Server is the dev backend.
type Server struct {
	Echo  *echo.Echo
	store *Store
	hub   *hub
	// finalDelay separates the provisional frame from the final that
	// supersedes it, mimicking the slower accurate pass.
	finalDelay time.Duration
}

// New wires routes onto a fresh echo instance.
func New(store *Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{Echo: e, store: store, hub: newHub(), finalDelay: 300 * time.Millisecond}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/create-meeting", s.createMeeting)
	e.GET("/get-meetings", s.getMeetings)
	e.GET("/get-meeting/:id", s.getMeeting)
	e.GET("/get-transcripts/:meeting_id", s.getTranscripts)
	e.POST("/rename-speaker", s.renameSpeaker)
	e.POST("/merge-speakers", s.mergeSpeakers)
	e.POST("/generate", s.generate)
	e.GET("/ws/audio/:meeting_id", s.audioWS)
	e.GET("/ws/transcripts/:meeting_id", s.transcriptWS)

	return s
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Echo.Start(addr) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) createMeeting(c echo.Context) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		req.Title = "Untitled meeting"
	}
	m, err := s.store.CreateMeeting(c.Request().Context(), req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) getMeetings(c echo.Context) error {
	ms, err := s.store.GetMeetings(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ms == nil {
		ms = []Meeting{}
	}
	return c.JSON(http.StatusOK, ms)
}

func (s *Server) getMeeting(c echo.Context) error {
	m, err := s.store.GetMeeting(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) getTranscripts(c echo.Context) error {
	rows, err := s.store.GetTranscripts(c.Request().Context(), c.Param("meeting_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rows == nil {
		rows = []TranscriptRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) renameSpeaker(c echo.Context) error {
	var req struct {
		MeetingID string `json:"meeting_id"`
		OldName   string `json:"old_name"`
		NewName   string `json:"new_name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MeetingID == "" || req.OldName == "" || req.NewName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "meeting_id, old_name and new_name are required")
	}
	n, err := s.store.RenameSpeaker(c.Request().Context(), req.MeetingID, req.OldName, req.NewName)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) mergeSpeakers(c echo.Context) error {
	var req struct {
		MeetingID   string `json:"meeting_id"`
		FromSpeaker string `json:"from_speaker"`
		ToSpeaker   string `json:"to_speaker"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MeetingID == "" || req.FromSpeaker == "" || req.ToSpeaker == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "meeting_id, from_speaker and to_speaker are required")
	}
	n, err := s.store.MergeSpeakers(c.Request().Context(), req.MeetingID, req.FromSpeaker, req.ToSpeaker)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) generate(c echo.Context) error {
	var req summary.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "transcript is required")
	}
	return c.JSON(http.StatusOK, cannedSummary(req))
}

// cannedSummary fabricates a deterministic summary from the transcript.
func cannedSummary(req summary.Request) summary.Result {
	lines := strings.Split(strings.TrimSpace(req.Transcript), "\n")
	var bullets []string
	for i, line := range lines {
		if i >= 5 {
			break
		}
		line = strings.TrimSpace(line)
		if line != "" {
			bullets = append(bullets, "- "+line)
		}
	}
	body := strings.Join(bullets, "\n")
	model := req.Model
	if model == "" {
		model = "dev-canned"
	}
	return summary.Result{
		Summary:    fmt.Sprintf("Meeting covered %d discussion points.", len(bullets)),
		RawSummary: body,
		Model:      model,
		Markdown:   "# Meeting summary\n\n" + body,
		SummaryJSON: map[string]interface{}{
			"points":    bullets,
			"template":  req.TemplateID,
			"generated": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// transcriptWS subscribes a client to a meeting's transcript frames.
func (s *Server) transcriptWS(c echo.Context) error {
	meetingID := c.Param("meeting_id")
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.hub.add(meetingID, conn)
	defer func() {
		s.hub.remove(meetingID, conn)
		_ = conn.Close()
	}()
	// the read loop only exists to observe the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// audioWS ingests binary PCM frames, cuts them into phrases and publishes
// fabricated preview/provisional/final transcript frames for each.
func (s *Server) audioWS(c echo.Context) error {
	meetingID := c.Param("meeting_id")
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ingest := &ingestSession{srv: s, meetingID: meetingID}
	cutter := newPhraseCutter(16000, ingest.onPhrase, ingest.onVoice)

	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			cutter.Flush()
			return nil
		}
		switch mt {
		case websocket.BinaryMessage:
			cutter.Feed(data)
		case websocket.TextMessage:
			var env struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				log.Printf("devserver: bad control frame: %v", err)
				continue
			}
			if env.Type == "stop" {
				cutter.Flush()
				s.hub.broadcast(meetingID, transcript.Frame{
					Type:      transcript.TypeStatus,
					Status:    "stopped",
					Timestamp: nowStamp(),
					MeetingID: meetingID,
				})
				return nil
			}
		}
	}
}

// ingestSession fabricates transcript frames for one audio connection.
type ingestSession struct {
	srv       *Server
	meetingID string
}

func (in *ingestSession) onVoice(active bool) {
	if !active {
		return
	}
	// a short preview while the phrase is still forming
	in.srv.hub.broadcast(in.meetingID, transcript.Frame{
		Type:       transcript.TypePreview,
		Transcript: previewText(cannedPhrases[0]),
		Timestamp:  nowStamp(),
		MeetingID:  in.meetingID,
	})
}

func (in *ingestSession) onPhrase(p phrase) {
	text := cannedPhrases[int(p.SequenceID-1)%len(cannedPhrases)]
	speaker := fmt.Sprintf("SPEAKER_%02d", (p.SequenceID-1)%2)
	start, end := p.Start, p.End

	in.srv.hub.broadcast(in.meetingID, transcript.Frame{
		Type:       transcript.TypeLive,
		Transcript: previewText(text),
		Speaker:    speaker,
		Timestamp:  nowStamp(),
		MeetingID:  in.meetingID,
		StartTime:  &start,
		EndTime:    &end,
		SequenceID: p.SequenceID,
		ChunkID:    p.ChunkID,
		Provider:   "fast",
	})

	finalSeq := p.SequenceID + 1000
	provisionalSeq := p.SequenceID
	time.AfterFunc(in.srv.finalDelay, func() {
		frame := transcript.Frame{
			Type:               transcript.TypeFinal,
			Transcript:         text,
			Speaker:            speaker,
			Timestamp:          nowStamp(),
			MeetingID:          in.meetingID,
			IsFinal:            true,
			StartTime:          &start,
			EndTime:            &end,
			SequenceID:         finalSeq,
			ReplacesSequenceID: &provisionalSeq,
			ChunkID:            p.ChunkID,
			Provider:           "whisper",
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := in.srv.store.InsertTranscript(ctx, TranscriptRow{
			MeetingID:      in.meetingID,
			Transcript:     text,
			Timestamp:      frame.Timestamp,
			Speaker:        speaker,
			AudioStartTime: &start,
			AudioEndTime:   &end,
		}); err != nil {
			log.Printf("devserver: persist transcript: %v", err)
		}
		in.srv.hub.broadcast(in.meetingID, frame)
	})
}

// previewText truncates to a draft-looking fragment.
func previewText(text string) string {
	words := strings.Fields(text)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
