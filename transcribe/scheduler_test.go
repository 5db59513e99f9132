package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/room4-2/OrderDesk/audio"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubTranscriber struct {
	text    string
	err     error
	calls   atomic.Int32
	release chan struct{}
	lastReq Request
	mu      sync.Mutex
}

func (s *stubTranscriber) Transcribe(ctx context.Context, _ []byte, req Request) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastReq = req
	s.mu.Unlock()
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func setup(t *testing.T, stt Transcriber) (*Scheduler, *audio.Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	buffers := audio.NewManager(audio.Options{
		MaxBufferSize: 10 << 20,
		MinBufferSize: 1024,
		Timeout:       5 * time.Minute,
		Now:           clock.Now,
	})
	sched := NewScheduler(buffers, stt, Config{
		Interval:  2 * time.Second,
		MinChunks: 4,
		MinBytes:  64 * 1024,
		Language:  "en",
	}, nil, nil)
	return sched, buffers, clock
}

func appendChunks(t *testing.T, m *audio.Manager, id string, n, size int) {
	t.Helper()
	for i := 0; i < n; i++ {
		chunk := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{byte(i)}, size))
		if _, err := m.Append(id, chunk); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
}

func TestPartialPassEmitsAndAdvancesCheckpoint(t *testing.T) {
	stt := &stubTranscriber{text: " two burgers "}
	sched, buffers, clock := setup(t, stt)
	buffers.Create("s1", audio.Info{Format: "webm", OrderSessionID: "o1"})
	appendChunks(t, buffers, "s1", 4, 20*1024)
	clock.Advance(2 * time.Second)

	var got []Partial
	var mu sync.Mutex
	if !sched.MaybePartial(context.Background(), "s1", func(p Partial) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}) {
		t.Fatalf("expected a partial pass to be scheduled")
	}
	sched.Wait()

	if len(got) != 1 || got[0].Text != "two burgers" || got[0].OrderSessionID != "o1" || got[0].Chunks != 4 {
		t.Fatalf("unexpected partials %+v", got)
	}
	if stt.lastReq.Language != "en" || stt.lastReq.Format != "webm" {
		t.Fatalf("expected language and format hints, got %+v", stt.lastReq)
	}
	if data, _, _ := buffers.SinceLastCheckpoint("s1"); data != nil {
		t.Fatalf("expected checkpoint advanced past transcribed audio")
	}
	if buffers.PartialInFlight("s1") {
		t.Fatalf("expected guard cleared")
	}
}

func TestPartialPassSkipsSmallAudio(t *testing.T) {
	stt := &stubTranscriber{text: "hi"}
	sched, buffers, clock := setup(t, stt)
	buffers.Create("s1", audio.Info{})
	appendChunks(t, buffers, "s1", 4, 1024)
	clock.Advance(3 * time.Second)

	emitted := false
	sched.MaybePartial(context.Background(), "s1", func(Partial) { emitted = true })
	sched.Wait()

	if stt.calls.Load() != 0 || emitted {
		t.Fatalf("expected no transcription below the byte threshold")
	}
	if buffers.PartialInFlight("s1") {
		t.Fatalf("expected guard cleared after abort")
	}
}

func TestPartialFailureIsSwallowed(t *testing.T) {
	stt := &stubTranscriber{err: errors.New("stt down")}
	sched, buffers, clock := setup(t, stt)
	buffers.Create("s1", audio.Info{})
	appendChunks(t, buffers, "s1", 4, 20*1024)
	clock.Advance(2 * time.Second)

	emitted := false
	sched.MaybePartial(context.Background(), "s1", func(Partial) { emitted = true })
	sched.Wait()

	if emitted {
		t.Fatalf("expected no partial on failure")
	}
	if buffers.PartialInFlight("s1") {
		t.Fatalf("expected guard cleared after failure")
	}
	if data, _, _ := buffers.SinceLastCheckpoint("s1"); len(data) != 80*1024 {
		t.Fatalf("expected checkpoint untouched on failure, got %d pending bytes", len(data))
	}
}

func TestNoConcurrentPartialPasses(t *testing.T) {
	stt := &stubTranscriber{text: "x", release: make(chan struct{})}
	sched, buffers, clock := setup(t, stt)
	buffers.Create("s1", audio.Info{})
	appendChunks(t, buffers, "s1", 4, 20*1024)
	clock.Advance(2 * time.Second)

	if !sched.MaybePartial(context.Background(), "s1", nil) {
		t.Fatalf("expected first pass to start")
	}
	appendChunks(t, buffers, "s1", 4, 20*1024)
	clock.Advance(5 * time.Second)
	if sched.MaybePartial(context.Background(), "s1", nil) {
		t.Fatalf("expected second pass to be refused while the first is in flight")
	}

	close(stt.release)
	sched.Wait()
	if stt.calls.Load() != 1 {
		t.Fatalf("expected exactly one transcription call, got %d", stt.calls.Load())
	}
}

func TestPartialDroppedWhenSessionDeleted(t *testing.T) {
	stt := &stubTranscriber{text: "late", release: make(chan struct{})}
	sched, buffers, clock := setup(t, stt)
	buffers.Create("s1", audio.Info{})
	appendChunks(t, buffers, "s1", 4, 20*1024)
	clock.Advance(2 * time.Second)

	emitted := false
	sched.MaybePartial(context.Background(), "s1", func(Partial) { emitted = true })
	buffers.Delete("s1")
	close(stt.release)
	sched.Wait()

	if emitted {
		t.Fatalf("expected partial for deleted session to be discarded")
	}
}

func TestFinalTrimsTranscript(t *testing.T) {
	stt := &stubTranscriber{text: "   "}
	sched, buffers, _ := setup(t, stt)
	buffers.Create("s1", audio.Info{})
	appendChunks(t, buffers, "s1", 2, 2048)

	text, err := sched.Final(context.Background(), "s1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}
}

func TestFinalPropagatesBufferErrors(t *testing.T) {
	sched, buffers, _ := setup(t, &stubTranscriber{})
	buffers.Create("s1", audio.Info{})
	if _, err := sched.Final(context.Background(), "s1"); !errors.Is(err, audio.ErrNoAudioData) {
		t.Fatalf("expected ErrNoAudioData, got %v", err)
	}
}
