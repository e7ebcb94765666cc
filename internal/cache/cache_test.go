package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/deskcache/internal/bus"
	"github.com/matheus3301/deskcache/internal/model"
	"github.com/matheus3301/deskcache/internal/status"
)

func contacts(prefix string, n int) []model.Contact {
	out := make([]model.Contact, n)
	for i := range out {
		out[i] = model.Contact{ID: fmt.Sprintf("c%d", i), Name: prefix}
	}
	return out
}

func TestGetNeverRefreshed(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)

	snap, ok := c.Get()
	if ok || snap != nil {
		t.Errorf("Get() = %v, %v, want never refreshed", snap, ok)
	}
	st := c.Status()
	if st.Refreshed || st.Count != 0 || st.LastRefreshedAt != nil || st.State != status.Idle {
		t.Errorf("Status() = %+v", st)
	}
}

func TestCommitPublishesSnapshot(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("cache.committed", 4)
	defer unsub()

	c := NewCollection[model.Contact](Contacts, b)
	h, started := c.BeginRefresh()
	if !started {
		t.Fatal("BeginRefresh() started = false")
	}
	if err := c.Commit(h, contacts("a", 3)); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	snap, ok := c.Get()
	if !ok || snap.Len() != 3 {
		t.Fatalf("Get() = %d records, ok=%v", snap.Len(), ok)
	}
	if got, ok := snap.Lookup("c1"); !ok || got.ID != "c1" {
		t.Errorf("Lookup(c1) = %+v, %v", got, ok)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	select {
	case evt := <-ch:
		ce, _ := evt.Payload.(CommitEvent)
		if ce.Count != 3 || ce.RunID != h.ID {
			t.Errorf("commit event = %+v", ce)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for commit event")
	}
}

func TestBeginRefreshReturnsInFlightHandle(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)

	h1, started := c.BeginRefresh()
	if !started {
		t.Fatal("first BeginRefresh() not started")
	}
	h2, started := c.BeginRefresh()
	if started || h2 != h1 {
		t.Fatalf("second BeginRefresh() = %p started=%v, want existing %p", h2, started, h1)
	}

	waited := make(chan error, 1)
	go func() { waited <- h2.Wait(context.Background()) }()

	if err := c.Commit(h1, contacts("a", 1)); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-waited:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by commit")
	}
}

func TestAbortKeepsPreviousSnapshot(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)
	h, _ := c.BeginRefresh()
	if err := c.Commit(h, contacts("good", 2)); err != nil {
		t.Fatal(err)
	}
	before, _ := c.Get()
	committedAt := *c.Status().LastRefreshedAt

	h, _ = c.BeginRefresh()
	boom := errors.New("page 3 failed")
	if err := c.Abort(h, boom); err != nil {
		t.Fatal(err)
	}
	if err := h.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want %v", err, boom)
	}

	after, _ := c.Get()
	if after != before {
		t.Error("abort replaced the published snapshot")
	}
	st := c.Status()
	if st.LastError != "page 3 failed" || st.LastFailedAt == nil {
		t.Errorf("Status() = %+v, want recorded failure", st)
	}
	if !st.LastRefreshedAt.Equal(committedAt) {
		t.Errorf("LastRefreshedAt = %v, want %v", st.LastRefreshedAt, committedAt)
	}
	if st.RefreshInProgress || st.State != status.Idle {
		t.Errorf("Status() = %+v, want idle", st)
	}
}

func TestStaleHandleRejected(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)
	h, _ := c.BeginRefresh()
	if err := c.Commit(h, nil); err != nil {
		t.Fatal(err)
	}

	if err := c.Commit(h, contacts("late", 1)); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Commit(old) error = %v, want ErrStaleHandle", err)
	}
	if err := c.Abort(h, nil); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Abort(old) error = %v, want ErrStaleHandle", err)
	}
	if err := c.Checkpoint(nil, nil); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Checkpoint(nil) error = %v, want ErrStaleHandle", err)
	}
}

func TestLastRefreshedAtMonotonic(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	var last time.Time
	steps := []struct {
		shift  time.Duration
		commit bool
	}{
		{0, true},
		{time.Minute, false},
		{-time.Hour, true},
		{2 * time.Minute, true},
		{-time.Second, false},
		{-5 * time.Minute, true},
	}
	for i, step := range steps {
		clock = clock.Add(step.shift)
		h, _ := c.BeginRefresh()
		if step.commit {
			_ = c.Commit(h, contacts("x", 1))
		} else {
			_ = c.Abort(h, errors.New("fail"))
		}
		got := c.Status().LastRefreshedAt
		if got == nil {
			t.Fatalf("step %d: LastRefreshedAt nil", i)
		}
		if got.Before(last) {
			t.Fatalf("step %d: LastRefreshedAt went back from %v to %v", i, last, *got)
		}
		last = *got
	}
}

func TestDuplicateKeysKeepFirstPosition(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)
	h, _ := c.BeginRefresh()
	_ = c.Commit(h, []model.Contact{
		{ID: "a", Name: "v1"},
		{ID: "b"},
		{ID: "a", Name: "v2"},
	})

	snap, _ := c.Get()
	items := snap.Items()
	if len(items) != 2 || items[0].ID != "a" || items[0].Name != "v2" {
		t.Errorf("Items() = %+v", items)
	}
}

func TestCheckpointKeepsRefreshOpen(t *testing.T) {
	c := NewCollection[model.Thread](Threads, nil)
	h, _ := c.BeginRefresh()
	h.SetTotal(3)
	h.AddDone(1)

	if err := c.Checkpoint(h, []model.Thread{{ConversationID: "A"}}); err != nil {
		t.Fatal(err)
	}
	snap, ok := c.Get()
	if !ok || snap.Len() != 1 {
		t.Fatalf("checkpoint not visible: %v %v", snap, ok)
	}
	st := c.Status()
	if !st.RefreshInProgress || st.Progress == nil || st.Progress.Done != 1 || st.Progress.Total != 3 {
		t.Errorf("Status() = %+v, want in progress 1/3", st)
	}
	select {
	case <-h.Done():
		t.Fatal("checkpoint finished the handle")
	default:
	}
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := NewCollection[model.Contact](Contacts, nil)
	h, _ := c.BeginRefresh()
	_ = c.Commit(h, contacts("gen0", 50))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make(chan string, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap, _ := c.Get()
				items := snap.Items()
				if len(items) != 50 {
					errs <- fmt.Sprintf("snapshot has %d records", len(items))
					return
				}
				gen := items[0].Name
				for _, it := range items {
					if it.Name != gen {
						errs <- fmt.Sprintf("mixed generations %q and %q", gen, it.Name)
						return
					}
				}
			}
		}()
	}

	for gen := 1; gen <= 200; gen++ {
		h, _ := c.BeginRefresh()
		if err := c.Commit(h, contacts(fmt.Sprintf("gen%d", gen), 50)); err != nil {
			t.Fatal(err)
		}
	}
	cancel()
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestStoreResetRefusedWhileRefreshing(t *testing.T) {
	b := bus.New()
	s := New(b)

	h, _ := s.Contacts.BeginRefresh()
	_ = s.Contacts.Commit(h, contacts("a", 2))

	busy, _ := s.Companies.BeginRefresh()
	if err := s.Reset(); !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("Reset() error = %v, want ErrRefreshInProgress", err)
	}
	if _, ok := s.Contacts.Get(); !ok {
		t.Error("refused reset dropped contacts")
	}

	_ = s.Companies.Abort(busy, nil)
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok := s.Contacts.Get(); ok {
		t.Error("contacts still present after reset")
	}
	st, ok := s.CollectionStatus(Contacts)
	if !ok || st.Refreshed || st.LastRefreshedAt == nil {
		t.Errorf("status after reset = %+v", st)
	}
}

func TestStoreStatusOrder(t *testing.T) {
	s := New(nil)
	var names []string
	for _, st := range s.Status() {
		names = append(names, st.Name)
	}
	want := []string{Admins, Contacts, Companies, Conversations, Threads}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("Status() order = %v, want %v", names, want)
	}
}
