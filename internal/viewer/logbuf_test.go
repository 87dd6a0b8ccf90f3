package viewer

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogBufferCapturesZerolog(t *testing.T) {
	lb := NewLogBuffer(16)
	logger := zerolog.New(lb)

	logger.Info().Str("panel", "radio").Msg("panel shown")

	got := lb.Snapshot()
	if len(got) != 1 {
		t.Fatalf("expected one entry, got %d", len(got))
	}
	if got[0].Level != "info" || got[0].Msg != "panel shown" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
	if len(got[0].Raw) == 0 {
		t.Fatal("expected the raw line kept")
	}
}

func TestLogBufferBuffersPartialLines(t *testing.T) {
	lb := NewLogBuffer(16)

	if _, err := lb.Write([]byte(`{"level":"warn","mes`)); err != nil {
		t.Fatal(err)
	}
	if n := len(lb.Snapshot()); n != 0 {
		t.Fatalf("half a line must not produce an entry, got %d", n)
	}

	if _, err := lb.Write([]byte("sage\":\"split write\"}\n")); err != nil {
		t.Fatal(err)
	}
	got := lb.Snapshot()
	if len(got) != 1 || got[0].Msg != "split write" {
		t.Fatalf("expected the joined line, got %+v", got)
	}
}

func TestLogBufferKeepsPlainLines(t *testing.T) {
	lb := NewLogBuffer(16)

	if _, err := lb.Write([]byte("not json at all\n")); err != nil {
		t.Fatal(err)
	}
	got := lb.Snapshot()
	if len(got) != 1 || got[0].Msg != "not json at all" || got[0].Level != "" {
		t.Fatalf("expected the line kept whole, got %+v", got)
	}
}

func TestLogBufferCapsAtMax(t *testing.T) {
	lb := NewLogBuffer(3)
	logger := zerolog.New(lb)

	for i := 0; i < 5; i++ {
		logger.Info().Int("i", i).Msg("entry")
	}

	got := lb.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected the ring capped at 3, got %d", len(got))
	}
	var first struct {
		I int `json:"i"`
	}
	if err := json.Unmarshal(got[0].Raw, &first); err != nil {
		t.Fatal(err)
	}
	if first.I != 2 {
		t.Fatalf("expected the oldest kept entry to be i=2, got %d", first.I)
	}
}

func TestServeLogsJSONTail(t *testing.T) {
	lb := NewLogBuffer(16)
	logger := zerolog.New(lb)
	for i := 0; i < 6; i++ {
		logger.Info().Int("i", i).Msg("entry")
	}

	rec := httptest.NewRecorder()
	lb.ServeLogsJSON(rec, httptest.NewRequest("GET", "/api/logs?tail=2", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []LogEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two tail entries, got %d", len(entries))
	}

	rec = httptest.NewRecorder()
	lb.ServeLogsJSON(rec, httptest.NewRequest("GET", "/api/logs?tail=soon", nil))
	if rec.Code != 400 {
		t.Fatalf("expected 400 for a non-numeric tail, got %d", rec.Code)
	}
}
