package routes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/command"
	"github.com/avendeel/sonabridge/internal/hub"
	"github.com/avendeel/sonabridge/internal/panel"
	"github.com/avendeel/sonabridge/internal/proto"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
	"github.com/avendeel/sonabridge/internal/visibility"
)

type fakeTransport struct {
	mu      sync.Mutex
	calls   []proto.Command
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeTransport) Call(ctx context.Context, cmd proto.Command) error {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	err := f.err
	f.mu.Unlock()
	return err
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransport) sent() []proto.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proto.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

func ptr[T any](v T) *T { return &v }

type rig struct {
	srv *httptest.Server
	tr  *fakeTransport
	st  *state.Store
	hub *hub.Hub
}

func newRig(t *testing.T) *rig {
	t.Helper()
	mock := clock.NewMock()
	tr := &fakeTransport{}
	st := state.New(mock, zerolog.Nop())
	disp := command.NewDispatcher(tr, st, []float64{0.5, 1.0, 1.5}, zerolog.Nop())
	vol := command.NewVolumeThrottle(tr, st, mock, 0, 0, 5, zerolog.Nop())
	h := hub.New()

	panels := []*panel.Panel{
		panel.New(source.Radio, st, disp, visibility.Timings{}, mock, zerolog.Nop()),
		panel.New(source.Podcast, st, disp, visibility.Timings{}, mock, zerolog.Nop()),
	}
	for _, p := range panels {
		t.Cleanup(p.Close)
	}

	mux := http.NewServeMux()
	Register(mux, Deps{
		Store:     st,
		Panels:    panels,
		Volume:    vol,
		Hub:       h,
		Connected: func() bool { return true },
		StartedAt: time.Now(),
		Version:   "test",
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &rig{srv: srv, tr: tr, st: st, hub: h}
}

func (rg *rig) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(rg.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (rg *rig) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(rg.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func seedPlayingRadio(t *testing.T, st *state.Store) {
	t.Helper()
	err := st.ApplyDelta(proto.StateDelta{
		ActiveSource: ptr(source.Radio),
		PluginState:  ptr(source.PluginConnected),
		Volume:       ptr(35),
		Metadata: &proto.MetadataDelta{
			IsPlaying: ptr(true),
			Position:  ptr(10.0),
			Duration:  ptr(0.0),
			Radio:     &source.RadioInfo{StationID: "st-1", StationName: "Night Jazz"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStateEndpoints(t *testing.T) {
	rg := newRig(t)
	seedPlayingRadio(t, rg.st)

	snap := decodeBody[map[string]any](t, rg.get(t, "/api/state"))
	if snap["active_source"] != "radio" {
		t.Fatalf("unexpected snapshot: %v", snap)
	}

	panels := decodeBody[[]map[string]any](t, rg.get(t, "/api/panels"))
	if len(panels) != 2 {
		t.Fatalf("expected two panels, got %d", len(panels))
	}

	radio := decodeBody[map[string]any](t, rg.get(t, "/api/radio/state"))
	if radio["source"] != "radio" || radio["playing"] != true {
		t.Fatalf("unexpected radio view: %v", radio)
	}
	if _, ok := radio["presentation"]; !ok {
		t.Fatal("view must include the presentation state")
	}
}

func TestPlayValidatesAndDispatches(t *testing.T) {
	rg := newRig(t)

	if resp := rg.post(t, "/api/radio/play", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing id, got %d", resp.StatusCode)
	}
	if got := len(rg.tr.sent()); got != 0 {
		t.Fatalf("invalid request must not dispatch, got %d calls", got)
	}

	resp := rg.post(t, "/api/radio/play", `{"id":"st-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	calls := rg.tr.sent()
	if len(calls) != 1 || calls[0].Kind != proto.CmdPlay || calls[0].EntityID != "st-1" {
		t.Fatalf("unexpected dispatch: %+v", calls)
	}
}

func TestTransportFailureMapsToAccepted(t *testing.T) {
	rg := newRig(t)
	rg.tr.fail(errors.New("socket closed"))

	resp := rg.post(t, "/api/radio/pause", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for a transport hiccup, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "pending" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestBusyControlMapsToConflict(t *testing.T) {
	rg := newRig(t)
	rg.tr.mu.Lock()
	rg.tr.gate = make(chan struct{})
	rg.tr.entered = make(chan struct{}, 1)
	rg.tr.mu.Unlock()

	firstDone := make(chan int, 1)
	go func() {
		resp, err := http.Post(rg.srv.URL+"/api/radio/pause", "application/json", bytes.NewReader(nil))
		if err != nil {
			firstDone <- 0
			return
		}
		defer resp.Body.Close()
		firstDone <- resp.StatusCode
	}()
	<-rg.tr.entered // the pause now holds the toggle slot

	resp := rg.post(t, "/api/radio/resume", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while the toggle is busy, got %d", resp.StatusCode)
	}

	close(rg.tr.gate)
	rg.tr.mu.Lock()
	rg.tr.gate, rg.tr.entered = nil, nil
	rg.tr.mu.Unlock()
	if code := <-firstDone; code != http.StatusOK {
		t.Fatalf("expected the first pause to finish with 200, got %d", code)
	}
}

func TestSpeedOutsideAllowListMapsToBadRequest(t *testing.T) {
	rg := newRig(t)

	resp := rg.post(t, "/api/podcast/speed", `{"value":3.0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a disallowed speed, got %d", resp.StatusCode)
	}
	if got := len(rg.tr.sent()); got != 0 {
		t.Fatalf("disallowed speed must not dispatch, got %d calls", got)
	}
}

func TestSeekRequiresPosition(t *testing.T) {
	rg := newRig(t)

	if resp := rg.post(t, "/api/podcast/seek", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing position, got %d", resp.StatusCode)
	}
	if resp := rg.post(t, "/api/podcast/seek", `{"position":0}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("seek to zero is valid, got %d", resp.StatusCode)
	}
}

func TestLibraryFailureMapsToBadGateway(t *testing.T) {
	rg := newRig(t)
	rg.tr.fail(errors.New("backend says no"))

	resp := rg.post(t, "/api/podcast/subscribe", `{"id":"show-4"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 for a failed library action, got %d", resp.StatusCode)
	}

	buf := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "backend says no") {
		t.Fatalf("expected the backend error surfaced, got %q", buf.String())
	}
}

func TestVolumeEndpoints(t *testing.T) {
	rg := newRig(t)

	if resp := rg.post(t, "/api/volume", `{"level":30,"delta":5}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for level plus delta, got %d", resp.StatusCode)
	}
	if resp := rg.post(t, "/api/volume", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty body, got %d", resp.StatusCode)
	}

	got := decodeBody[map[string]int](t, rg.post(t, "/api/volume", `{"level":30}`))
	if got["level"] != 30 {
		t.Fatalf("expected level 30, got %v", got)
	}
	got = decodeBody[map[string]int](t, rg.post(t, "/api/volume", `{"delta":-5}`))
	if got["level"] != 25 {
		t.Fatalf("expected level 25, got %v", got)
	}
	got = decodeBody[map[string]int](t, rg.post(t, "/api/volume/up", ""))
	if got["level"] != 30 {
		t.Fatalf("expected one step up to 30, got %v", got)
	}

	if resp := rg.post(t, "/api/volume/commit", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from commit, got %d", resp.StatusCode)
	}
	calls := rg.tr.sent()
	if len(calls) != 1 || calls[0].Kind != proto.CmdSetVolume || calls[0].Volume != 30 {
		t.Fatalf("expected commit to flush set_volume 30, got %+v", calls)
	}
}

func TestHealthReportsLinkAndStaleness(t *testing.T) {
	rg := newRig(t)
	rg.st.MarkStale()

	health := decodeBody[map[string]any](t, rg.get(t, "/api/health"))
	if health["status"] != "ok" || health["connected"] != true {
		t.Fatalf("unexpected health: %v", health)
	}
	if health["stale"] != true {
		t.Fatalf("expected stale reported, got %v", health)
	}
}

func TestMethodGuards(t *testing.T) {
	rg := newRig(t)

	if resp := rg.get(t, "/api/radio/play"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET on play, got %d", resp.StatusCode)
	}
	if resp := rg.post(t, "/api/state", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST on state, got %d", resp.StatusCode)
	}
}

func TestEventsStreamSnapshotThenPushes(t *testing.T) {
	rg := newRig(t)
	seedPlayingRadio(t, rg.st)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rg.srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	br := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var event, data string
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("stream ended early: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, data := readEvent()
	if event != "snapshot" {
		t.Fatalf("expected the snapshot first, got %q", event)
	}
	if !strings.Contains(data, `"panels"`) || !strings.Contains(data, `"state"`) {
		t.Fatalf("snapshot must carry state and panels, got %s", data)
	}

	rg.hub.Publish(hub.TypePanel, source.Radio, map[string]bool{"visible": true})
	event, data = readEvent()
	if event != hub.TypePanel || !strings.Contains(data, `"radio"`) {
		t.Fatalf("expected the panel push, got %q %s", event, data)
	}
}
