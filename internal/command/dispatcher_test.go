package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/proto"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
)

// fakeTransport records calls. When gate is set, Call blocks on it after
// signalling entered, so tests can hold a control slot open.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []proto.Command
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeTransport) Call(ctx context.Context, cmd proto.Command) error {
	f.mu.Lock()
	entered, gate := f.entered, f.gate
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.err
}

func (f *fakeTransport) sent() []proto.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proto.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

func ptr[T any](v T) *T { return &v }

var testSpeeds = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 2.0}

func newTestDispatcher() (*Dispatcher, *fakeTransport, *state.Store) {
	tr := &fakeTransport{}
	st := state.New(clock.NewMock(), zerolog.Nop())
	return NewDispatcher(tr, st, testSpeeds, zerolog.Nop()), tr, st
}

func TestPlaySendsCommand(t *testing.T) {
	d, tr, _ := newTestDispatcher()

	if err := d.Play(context.Background(), source.Podcast, "ep-1"); err != nil {
		t.Fatal(err)
	}

	calls := tr.sent()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Kind != proto.CmdPlay || calls[0].EntityID != "ep-1" || calls[0].Source != source.Podcast {
		t.Fatalf("unexpected command: %+v", calls[0])
	}
}

func TestUnknownSourceRejected(t *testing.T) {
	d, tr, _ := newTestDispatcher()

	if err := d.Pause(context.Background(), source.Kind("tape")); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if len(tr.sent()) != 0 {
		t.Fatal("rejected command reached the transport")
	}
}

func TestBusyControlRejectsSecondCommand(t *testing.T) {
	d, tr, _ := newTestDispatcher()
	tr.gate = make(chan struct{})
	tr.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- d.Play(context.Background(), source.Radio, "st-1") }()
	<-tr.entered // play holds the toggle slot

	if err := d.Pause(context.Background(), source.Radio); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy on the shared toggle control, got %v", err)
	}

	close(tr.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// Slot released: the toggle accepts commands again.
	tr.mu.Lock()
	tr.gate = nil
	tr.entered = nil
	tr.mu.Unlock()
	if err := d.Pause(context.Background(), source.Radio); err != nil {
		t.Fatalf("expected free control after release, got %v", err)
	}
}

func TestBusyControlsAreIndependentPerSource(t *testing.T) {
	d, tr, _ := newTestDispatcher()
	tr.gate = make(chan struct{})
	tr.entered = make(chan struct{}, 2)

	done := make(chan error, 1)
	go func() { done <- d.Play(context.Background(), source.Radio, "st-1") }()
	<-tr.entered

	// The podcast toggle is a different slot.
	go func() { done <- d.Play(context.Background(), source.Podcast, "ep-1") }()
	<-tr.entered

	close(tr.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(tr.sent()) != 2 {
		t.Fatalf("expected both sources to send, got %d", len(tr.sent()))
	}
}

func TestSetSpeedAllowList(t *testing.T) {
	d, tr, _ := newTestDispatcher()

	if err := d.SetSpeed(context.Background(), source.Podcast, 3.0); !errors.Is(err, ErrSpeedNotAllowed) {
		t.Fatalf("expected ErrSpeedNotAllowed, got %v", err)
	}
	if len(tr.sent()) != 0 {
		t.Fatal("disallowed speed reached the transport")
	}

	if err := d.SetSpeed(context.Background(), source.Podcast, 1.25); err != nil {
		t.Fatal(err)
	}
	calls := tr.sent()
	if len(calls) != 1 || calls[0].Speed != 1.25 {
		t.Fatalf("expected one set_speed 1.25, got %+v", calls)
	}
}

func TestSeekClampsAndEchoesOptimistically(t *testing.T) {
	d, tr, st := newTestDispatcher()

	err := st.ApplyDelta(proto.StateDelta{
		ActiveSource: ptr(source.Podcast),
		Metadata: &proto.MetadataDelta{
			Position: ptr(10.0),
			Duration: ptr(60.0),
			Podcast:  &source.PodcastInfo{EpisodeID: "ep-1"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Seek(context.Background(), source.Podcast, 500); err != nil {
		t.Fatal(err)
	}
	calls := tr.sent()
	if len(calls) != 1 || calls[0].Position != 60 {
		t.Fatalf("expected seek clamped to 60, got %+v", calls)
	}
	if got := st.Snapshot().Metadata.Position; got != 60 {
		t.Fatalf("expected optimistic position 60, got %v", got)
	}

	if err := d.Seek(context.Background(), source.Podcast, -3); err != nil {
		t.Fatal(err)
	}
	calls = tr.sent()
	if calls[1].Position != 0 {
		t.Fatalf("expected seek clamped to 0, got %v", calls[1].Position)
	}
}

func TestTransportFailureIsNotRetried(t *testing.T) {
	d, tr, _ := newTestDispatcher()
	tr.err = errors.New("socket closed")

	err := d.Play(context.Background(), source.Radio, "st-1")
	if err == nil {
		t.Fatal("expected the transport error back")
	}
	if len(tr.sent()) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(tr.sent()))
	}
}

func TestLibraryCommandsSurfaceFailures(t *testing.T) {
	d, tr, _ := newTestDispatcher()
	tr.err = errors.New("backend says no")

	err := d.Subscribe(context.Background(), source.Podcast, "show-4")
	if err == nil || !errors.Is(err, tr.err) {
		t.Fatalf("expected the wrapped transport error, got %v", err)
	}

	tr.err = nil
	if err := d.Unsubscribe(context.Background(), source.Podcast, "show-4"); err != nil {
		t.Fatal(err)
	}
	if err := d.Subscribe(context.Background(), source.Podcast, ""); err == nil {
		t.Fatal("expected an error for a missing entity id")
	}
}
