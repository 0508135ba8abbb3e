package devserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hainguyenvie/vmeeting/internal/transcript"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(openTestStore(t))
	s.finalDelay = 10 * time.Millisecond
	ts := httptest.NewServer(s.Echo)
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestPhraseCutter_SegmentsSpeechByGaps(t *testing.T) {
	var phrases []phrase
	cutter := newPhraseCutter(16000, func(p phrase) { phrases = append(phrases, p) }, nil)

	loud := pcmFrame(8000, 0.1)
	silent := pcmFrame(0, 0.1)
	feed := func(buf []byte, n int) {
		for i := 0; i < n; i++ {
			cutter.Feed(buf)
		}
	}

	feed(loud, 5)   // 0.5s phrase
	feed(silent, 7) // 0.7s gap closes it
	feed(loud, 4)   // second phrase
	cutter.Flush()

	if len(phrases) != 2 {
		t.Fatalf("phrases: %d", len(phrases))
	}
	if phrases[0].SequenceID != 1 || phrases[1].SequenceID != 2 {
		t.Fatalf("sequence ids: %+v", phrases)
	}
	if phrases[0].Start > 0.01 || phrases[0].End < 0.49 || phrases[0].End > 0.51 {
		t.Fatalf("first phrase span: %+v", phrases[0])
	}
	if phrases[1].Start < 1.1 || phrases[1].Start > 1.3 {
		t.Fatalf("second phrase start: %+v", phrases[1])
	}
}

func TestPhraseCutter_IgnoresShortBlips(t *testing.T) {
	var phrases []phrase
	cutter := newPhraseCutter(16000, func(p phrase) { phrases = append(phrases, p) }, nil)
	cutter.Feed(pcmFrame(8000, 0.1)) // 100ms blip, below the minimum
	for i := 0; i < 7; i++ {
		cutter.Feed(pcmFrame(0, 0.1))
	}
	cutter.Flush()
	if len(phrases) != 0 {
		t.Fatalf("blip produced phrases: %+v", phrases)
	}
}

func TestServer_MeetingAndSpeakerEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/create-meeting", "application/json", strings.NewReader(`{"title":"sync"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var m Meeting
	_ = json.NewDecoder(resp.Body).Decode(&m)
	resp.Body.Close()
	if m.ID == "" {
		t.Fatalf("meeting: %+v", m)
	}

	resp, _ = http.Get(ts.URL + "/get-meeting/" + m.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get-meeting status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Post(ts.URL+"/rename-speaker", "application/json",
		strings.NewReader(`{"meeting_id":"`+m.ID+`","old_name":"SPEAKER_00","new_name":"Lan"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// missing fields rejected
	resp, _ = http.Post(ts.URL+"/merge-speakers", "application/json", strings.NewReader(`{"meeting_id":"x"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("merge validation status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestServer_GenerateCannedSummary(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/generate", "application/json",
		strings.NewReader(`{"transcript":"Lan: hello\nMinh: hi","template_id":"standup","model":"gpt-4o-mini","meeting_id":"m1"}`))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var res struct {
		Summary  string `json:"summary"`
		Model    string `json:"model"`
		Markdown string `json:"markdown"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if res.Summary == "" || res.Model != "gpt-4o-mini" || !strings.Contains(res.Markdown, "Lan: hello") {
		t.Fatalf("summary: %+v", res)
	}

	resp, _ = http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"transcript":"  "}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty transcript status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestServer_AudioToTranscriptFlow(t *testing.T) {
	s, ts := newTestServer(t)

	sub, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/transcripts/m1"), nil)
	if err != nil {
		t.Fatalf("dial transcripts: %v", err)
	}
	defer sub.Close()

	src, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/audio/m1"), nil)
	if err != nil {
		t.Fatalf("dial audio: %v", err)
	}
	defer src.Close()

	// one phrase of speech, then the stop envelope flushes it
	for i := 0; i < 5; i++ {
		if err := src.WriteMessage(websocket.BinaryMessage, pcmFrame(8000, 0.1)); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	if err := src.WriteJSON(map[string]interface{}{"type": "stop", "data": nil, "timestamp": "t"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	var sawLive, sawFinal bool
	deadline := time.Now().Add(3 * time.Second)
	for (!sawLive || !sawFinal) && time.Now().Before(deadline) {
		_ = sub.SetReadDeadline(time.Now().Add(time.Second))
		_, data, rerr := sub.ReadMessage()
		if rerr != nil {
			break
		}
		f, perr := transcript.ParseFrame(data)
		if perr != nil {
			// status frames parse too; anything else is a bug
			t.Fatalf("bad frame %s: %v", data, perr)
		}
		switch f.Type {
		case transcript.TypeLive:
			sawLive = true
			if f.SequenceID == 0 || f.ChunkID == "" {
				t.Fatalf("live frame missing linkage: %+v", f)
			}
		case transcript.TypeFinal:
			sawFinal = true
			if f.ReplacesSequenceID == nil || *f.ReplacesSequenceID == 0 {
				t.Fatalf("final frame missing supersession: %+v", f)
			}
		}
	}
	if !sawLive || !sawFinal {
		t.Fatalf("flow incomplete: live=%v final=%v", sawLive, sawFinal)
	}

	// the final was persisted to the record
	rows, err := s.store.GetTranscripts(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get transcripts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("persisted rows: %d", len(rows))
	}
}

// pcmFrame builds PCM16LE at 16kHz with the given amplitude and duration.
func pcmFrame(amplitude int16, seconds float64) []byte {
	n := int(16000 * seconds)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}
