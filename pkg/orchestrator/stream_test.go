package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"mercator-hq/conclave/internal/upstreamtest"
	"mercator-hq/conclave/pkg/usage"
)

type collector struct {
	events []StreamEvent
	failAt int
}

func (c *collector) emit(ev StreamEvent) error {
	c.events = append(c.events, ev)
	if c.failAt > 0 && len(c.events) >= c.failAt {
		return errors.New("client went away")
	}
	return nil
}

func (c *collector) text() string {
	var b strings.Builder
	for _, ev := range c.events {
		if ev.Type == EventDelta {
			b.WriteString(ev.Chunk)
		}
	}
	return b.String()
}

func (c *collector) last() StreamEvent {
	return c.events[len(c.events)-1]
}

func TestStream_RelaysDeltasAndDone(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.srv.Enqueue("acme/main", upstreamtest.Stream("Hel", "lo"))

	sess, err := f.orch.OpenStream(context.Background(), newRequest("k1"))
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer sess.Close()

	var c collector
	if err := sess.Relay(context.Background(), c.emit); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	if c.text() != "Hello" {
		t.Errorf("Expected deltas to spell Hello, got %q", c.text())
	}
	done := c.last()
	if done.Type != EventDone || done.Content != "Hello" {
		t.Fatalf("Expected done with full content, got %+v", done)
	}
	if done.ModelIDUsed != "acme/main" || done.Usage.TotalTokens != 30 {
		t.Errorf("Expected acme/main with 30 tokens, got %q %d", done.ModelIDUsed, done.Usage.TotalTokens)
	}
	if sess.State() != StateDone {
		t.Errorf("Expected DONE, got %s", sess.State())
	}

	ev := f.singleEvent(t)
	if !ev.Stream || ev.Status != usage.StatusSuccess {
		t.Errorf("Expected a successful stream usage event, got stream=%v status=%s", ev.Stream, ev.Status)
	}
	f.assertSlotsFree(t)

	sess.Close()
	if n := len(f.usage.Events()); n != 1 {
		t.Errorf("Expected Close after done to record nothing, got %d events", n)
	}
}

func TestStream_FallsBackBeforeFirstDelta(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	// A stream that ends without content yields INVALID_RESPONSE.
	f.srv.Enqueue("acme/main", upstreamtest.Response{StreamChunks: []string{upstreamtest.UsageChunk(1, 0)}})
	f.srv.Enqueue("acme/backup", upstreamtest.Stream("backup"))

	sess, err := f.orch.OpenStream(context.Background(), newRequest("k1"))
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer sess.Close()

	if sess.ModelIDUsed() != "acme/backup" || sess.FallbackFromModel() != "acme/main" {
		t.Errorf("Expected acme/backup from acme/main, got %q from %q", sess.ModelIDUsed(), sess.FallbackFromModel())
	}

	var c collector
	if err := sess.Relay(context.Background(), c.emit); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}
	if done := c.last(); done.FallbackFromModel != "acme/main" {
		t.Errorf("Expected done to carry fallback annotation, got %q", done.FallbackFromModel)
	}
}

func TestStream_FailureBeforeFirstDeltaIsReturned(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.srv.SetDefault(upstreamtest.Response{StreamChunks: []string{upstreamtest.UsageChunk(1, 0)}})

	_, err := f.orch.OpenStream(context.Background(), newRequest("k1"))
	e := asError(t, err)
	if e.Code != CodeInvalidResponse || e.Status != http.StatusBadGateway {
		t.Errorf("Expected INVALID_RESPONSE/502, got %s/%d", e.Code, e.Status)
	}

	ev := f.singleEvent(t)
	if ev.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502 usage event, got %d", ev.StatusCode)
	}
	f.assertSlotsFree(t)
}

func TestStream_MidStreamErrorEmitsErrorEvent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.srv.Enqueue("acme/main", upstreamtest.Response{
		StreamChunks: []string{
			upstreamtest.DeltaChunk("partial"),
			upstreamtest.ErrorChunk(http.StatusBadGateway, "provider fell over"),
		},
	})

	sess, err := f.orch.OpenStream(context.Background(), newRequest("k1"))
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer sess.Close()

	var c collector
	if err := sess.Relay(context.Background(), c.emit); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	last := c.last()
	if last.Type != EventError || last.Err == nil {
		t.Fatalf("Expected error event, got %+v", last)
	}
	if f.srv.RequestCount() != 1 {
		t.Errorf("Expected no fallback after the first delta, got %d calls", f.srv.RequestCount())
	}
	if sess.State() != StateFailed {
		t.Errorf("Expected FAILED, got %s", sess.State())
	}
	if ev := f.singleEvent(t); ev.Status != usage.StatusError {
		t.Errorf("Expected error usage event, got %s", ev.Status)
	}
	f.assertSlotsFree(t)
}

func TestStream_ClientGoneIsCanceled(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.srv.Enqueue("acme/main", upstreamtest.Response{
		StreamChunks: []string{upstreamtest.DeltaChunk("a"), upstreamtest.DeltaChunk("b")},
		Hang:         true,
	})

	sess, err := f.orch.OpenStream(context.Background(), newRequest("k1"))
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer sess.Close()

	c := collector{failAt: 1}
	if err := sess.Relay(context.Background(), c.emit); err == nil {
		t.Fatal("Expected Relay to report the failed write")
	}

	ev := f.singleEvent(t)
	if ev.StatusCode != 499 || ev.Code != CodeCanceled {
		t.Errorf("Expected 499 CANCELED usage event, got %d %s", ev.StatusCode, ev.Code)
	}
	f.assertSlotsFree(t)
}

func TestStream_ContextCancelStopsRelay(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.srv.Enqueue("acme/main", upstreamtest.Response{
		StreamChunks: []string{upstreamtest.DeltaChunk("a")},
		Hang:         true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := f.orch.OpenStream(ctx, newRequest("k1"))
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer sess.Close()

	time.AfterFunc(50*time.Millisecond, cancel)

	relayed := make(chan error, 1)
	go func() {
		var c collector
		relayed <- sess.Relay(ctx, c.emit)
	}()

	select {
	case err := <-relayed:
		if err == nil {
			t.Error("Expected Relay to return an error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not return after cancel")
	}

	ev := f.singleEvent(t)
	if ev.StatusCode != 499 {
		t.Errorf("Expected 499 usage event, got %d", ev.StatusCode)
	}
	f.assertSlotsFree(t)
}

func TestSession_CloseWithoutRelayFinalizes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.srv.Enqueue("acme/main", upstreamtest.Stream("never", "read"))

	sess, err := f.orch.OpenStream(context.Background(), newRequest("k1"))
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	sess.Close()
	sess.Close()

	ev := f.singleEvent(t)
	if ev.Code != CodeCanceled {
		t.Errorf("Expected CANCELED usage event, got %s", ev.Code)
	}
	f.assertSlotsFree(t)
}
