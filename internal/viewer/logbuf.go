package viewer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avendeel/sonabridge/internal/util"
)

// LogEntry is one captured log line. Level and Msg are lifted out of the
// zerolog JSON for display; Raw keeps the full structured line.
type LogEntry struct {
	TS    time.Time       `json:"ts"`
	Level string          `json:"level,omitempty"`
	Msg   string          `json:"msg"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// LogBuffer keeps the newest log lines in memory and streams them to SSE
// subscribers. It sits behind the logger as an io.Writer, so everything
// the daemon logs is also inspectable over HTTP.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	subs    map[chan LogEntry]struct{}

	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Write implements io.Writer for zerolog.MultiLevelWriter. Input arrives
// as newline-delimited JSON; partial writes are buffered until their
// newline shows up.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)

	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}

		line := string(data[:i])
		b.partial.Next(i + 1)

		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := parseLine(line)
		b.entries.Push(e)
		b.broadcastLocked(e)
	}

	return len(p), nil
}

// parseLine lifts level, time and message out of one zerolog JSON line.
// Non-JSON lines are kept whole as the message.
func parseLine(line string) LogEntry {
	e := LogEntry{TS: time.Now(), Msg: line}

	var fields struct {
		Level   string `json:"level"`
		Time    string `json:"time"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return e
	}

	e.Level = fields.Level
	e.Raw = json.RawMessage(line)
	if fields.Message != "" {
		e.Msg = fields.Message
	}
	if ts, err := time.Parse(time.RFC3339, fields.Time); err == nil {
		e.TS = ts
	}
	return e
}

func (b *LogBuffer) broadcastLocked(e LogEntry) {
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop on slow subscriber
		}
	}
}

// Snapshot returns the buffered entries, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

// Last returns the newest n entries, oldest first.
func (b *LogBuffer) Last(n int) []LogEntry {
	return b.entries.Last(n)
}

func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// GET /api/logs?tail=N
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := b.Snapshot()
	if tail := r.URL.Query().Get("tail"); tail != "" {
		n := 0
		for _, ch := range tail {
			if ch < '0' || ch > '9' {
				n = -1
				break
			}
			n = n*10 + int(ch-'0')
		}
		if n < 0 {
			http.Error(w, "tail must be a number", http.StatusBadRequest)
			return
		}
		entries = b.Last(n)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(entries)
}

// GET /api/logs/stream  (Server-Sent Events) - tail only (no snapshot)
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(e)
			_, _ = w.Write([]byte("event: message\n"))
			_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}
}
