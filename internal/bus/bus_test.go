package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("cache.", 10)
	defer unsub()

	b.Emit(KindCommitted, "contacts")

	select {
	case evt := <-ch:
		if evt.Kind != KindCommitted {
			t.Errorf("got kind %q, want %s", evt.Kind, KindCommitted)
		}
		if evt.Payload != "contacts" {
			t.Errorf("payload = %v, want contacts", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit did not stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("hydration.", 10)
	defer unsub()

	b.Emit(KindCommitted, nil)
	b.Emit(KindHydrationStarted, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindHydrationStarted {
			t.Errorf("got kind %q, want %s", evt.Kind, KindHydrationStarted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("cache.", 10)
	unsub()

	b.Emit(KindCommitted, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("cache.", 1)
	defer unsub()

	b.Emit(KindCommitted, nil)
	b.Emit(KindAborted, nil)

	evt := <-ch
	if evt.Kind != KindCommitted {
		t.Errorf("got %q, want %s", evt.Kind, KindCommitted)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("cache.", 1)
	unsub()
	unsub()

	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	if n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(KindCommitted, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus reported drops")
	}
}
