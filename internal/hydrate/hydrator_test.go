package hydrate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/deskcache/internal/cache"
	"github.com/matheus3301/deskcache/internal/model"
	"github.com/matheus3301/deskcache/internal/remote"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	// block, when set, holds every fetch until closed or cancelled.
	block chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *fakeFetcher) GetConversation(ctx context.Context, id string) (model.Thread, error) {
	f.mu.Lock()
	f.calls[id]++
	err := f.fail[id]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.Thread{}, ctx.Err()
		}
	}
	if err != nil {
		return model.Thread{}, err
	}
	return model.Thread{
		ConversationID: id,
		Parts:          []model.Part{{ID: id + "-p1", Type: "source", Body: "hello"}},
		HydratedAt:     time.Now().UTC(),
	}, nil
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func seedConversations(t *testing.T, store *cache.Store, convs ...model.Conversation) {
	t.Helper()
	h, _ := store.Conversations.BeginRefresh()
	if err := store.Conversations.Commit(h, convs); err != nil {
		t.Fatal(err)
	}
}

func seedThreads(t *testing.T, store *cache.Store, threads ...model.Thread) {
	t.Helper()
	h, _ := store.Threads.BeginRefresh()
	if err := store.Threads.Commit(h, threads); err != nil {
		t.Fatal(err)
	}
}

func threadIDs(store *cache.Store) []string {
	snap, _ := store.Threads.Get()
	var ids []string
	for _, th := range snap.Items() {
		ids = append(ids, th.ConversationID)
	}
	return ids
}

func TestRunIsolatesFailures(t *testing.T) {
	store := cache.New(nil)
	seedConversations(t, store, model.Conversation{ID: "A"}, model.Conversation{ID: "B"}, model.Conversation{ID: "C"})

	f := newFakeFetcher()
	f.fail["B"] = &remote.Error{Op: "get_conversation", Kind: remote.KindTransient, StatusCode: 502}

	h := New(f, store, nil, nil, Options{Concurrency: 2})
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Hydrated != 2 || len(res.Failed) != 1 {
		t.Fatalf("Run() = %+v, want 2 hydrated and 1 failure", res)
	}
	if res.Failed[0].ConversationID != "B" || res.Failed[0].Kind != "transient" {
		t.Errorf("Failed = %+v, want B transient", res.Failed)
	}
	if got := threadIDs(store); len(got) != 2 || got[0] != "A" || got[1] != "C" {
		t.Errorf("threads = %v, want [A C]", got)
	}

	var perr *PartialError
	if !errors.As(res.Err(), &perr) || perr.Hydrated != 2 {
		t.Errorf("Err() = %v, want PartialError with 2 hydrated", res.Err())
	}

	st, _ := store.CollectionStatus(cache.Threads)
	if st.RefreshInProgress || st.Count != 2 {
		t.Errorf("threads status = %+v", st)
	}
}

func TestRunWithoutSummariesIsNoop(t *testing.T) {
	store := cache.New(nil)
	f := newFakeFetcher()
	h := New(f, store, nil, nil, Options{Concurrency: 4})

	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.NoSummaries || res.Hydrated != 0 || res.Err() != nil {
		t.Errorf("Run() = %+v, want no-op", res)
	}
	if _, ok := store.Threads.Get(); ok {
		t.Error("threads committed without summaries")
	}
}

func TestSelectWorkSkipsFreshThreads(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := cache.New(nil)
	seedConversations(t, store,
		model.Conversation{ID: "fresh", UpdatedAt: now.Add(-time.Hour)},
		model.Conversation{ID: "stale", UpdatedAt: now.Add(-48 * time.Hour)},
		model.Conversation{ID: "updated", UpdatedAt: now.Add(-time.Minute)},
		model.Conversation{ID: "missing"},
	)
	seedThreads(t, store,
		model.Thread{ConversationID: "fresh", HydratedAt: now.Add(-30 * time.Minute)},
		model.Thread{ConversationID: "stale", HydratedAt: now.Add(-25 * time.Hour)},
		model.Thread{ConversationID: "updated", HydratedAt: now.Add(-10 * time.Minute)},
	)

	h := New(newFakeFetcher(), store, nil, nil, Options{Staleness: 24 * time.Hour})
	h.now = func() time.Time { return now }

	convs, _ := store.Conversations.Get()
	prev, _ := store.Threads.Get()
	work := h.selectWork(convs, prev)

	var ids []string
	for _, c := range work {
		ids = append(ids, c.ID)
	}
	want := []string{"stale", "updated", "missing"}
	if len(ids) != len(want) {
		t.Fatalf("selectWork() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("selectWork()[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	h.opts.MaxPerRun = 1
	if got := h.selectWork(convs, prev); len(got) != 1 {
		t.Errorf("MaxPerRun=1 selected %d", len(got))
	}
}

func TestRunKeepsOldThreadOnFailureAndPrunesRemoved(t *testing.T) {
	store := cache.New(nil)
	old := time.Now().Add(-72 * time.Hour).UTC()
	seedConversations(t, store, model.Conversation{ID: "A"}, model.Conversation{ID: "B"})
	seedThreads(t, store,
		model.Thread{ConversationID: "A", HydratedAt: old},
		model.Thread{ConversationID: "gone", HydratedAt: old},
	)

	f := newFakeFetcher()
	f.fail["A"] = errors.New("boom")
	h := New(f, store, nil, nil, Options{Concurrency: 1, Staleness: time.Hour})

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap, _ := store.Threads.Get()
	if a, ok := snap.Lookup("A"); !ok || !a.HydratedAt.Equal(old) {
		t.Errorf("A = %+v, %v, want previous thread kept", a, ok)
	}
	if _, ok := snap.Lookup("gone"); ok {
		t.Error("thread of removed conversation not pruned")
	}
	if _, ok := snap.Lookup("B"); !ok {
		t.Error("B not hydrated")
	}
}

func TestRunCancellationCommitsFinished(t *testing.T) {
	store := cache.New(nil)
	seedConversations(t, store,
		model.Conversation{ID: "A"}, model.Conversation{ID: "B"},
		model.Conversation{ID: "C"}, model.Conversation{ID: "D"},
	)

	f := newFakeFetcher()
	entered := make(chan string, 4)
	g := &gatedFetcher{inner: f, gateID: "B", gate: make(chan struct{}), entered: entered}
	h := New(g, store, nil, nil, Options{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := h.Run(ctx)
		out <- outcome{res, err}
	}()

	// A completes; cancel while B is in flight.
	for id := range entered {
		if id == "B" {
			break
		}
	}
	cancel()

	var o outcome
	select {
	case o = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !o.res.Cancelled || o.res.Hydrated != 1 || o.res.Skipped != 3 || len(o.res.Failed) != 0 {
		t.Errorf("Run() = %+v, want A hydrated and 3 skipped", o.res)
	}
	if f.count("C") != 0 || f.count("D") != 0 {
		t.Error("fetch started after cancellation")
	}
	if got := threadIDs(store); len(got) != 1 || got[0] != "A" {
		t.Errorf("threads = %v, want [A]", got)
	}
}

func TestCheckpointPublishesProgress(t *testing.T) {
	store := cache.New(nil)
	seedConversations(t, store, model.Conversation{ID: "A"}, model.Conversation{ID: "B"}, model.Conversation{ID: "C"})

	// Hold C so the checkpoints for A and B can be observed mid-run.
	release := make(chan struct{})
	g := &gatedFetcher{inner: newFakeFetcher(), gateID: "C", gate: release}
	h := New(g, store, nil, nil, Options{Concurrency: 1, CheckpointEvery: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.Run(context.Background())
	}()

	deadline := time.After(2 * time.Second)
	for {
		snap, ok := store.Threads.Get()
		if ok && snap.Len() == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("checkpoint with 2 threads never published")
		case <-time.After(5 * time.Millisecond):
		}
	}
	st, _ := store.CollectionStatus(cache.Threads)
	if !st.RefreshInProgress || st.Progress == nil || st.Progress.Done != 2 {
		t.Errorf("status mid-run = %+v", st)
	}

	close(release)
	<-done
	if got := threadIDs(store); len(got) != 3 {
		t.Errorf("threads = %v, want 3", got)
	}
}

// gatedFetcher holds fetches of gateID until gate is closed.
type gatedFetcher struct {
	inner   Fetcher
	gateID  string
	gate    chan struct{}
	entered chan string
}

func (g *gatedFetcher) GetConversation(ctx context.Context, id string) (model.Thread, error) {
	if g.entered != nil {
		g.entered <- id
	}
	if id == g.gateID {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return model.Thread{}, ctx.Err()
		}
	}
	return g.inner.GetConversation(ctx, id)
}

func TestRunRefusedWhileInProgress(t *testing.T) {
	store := cache.New(nil)
	seedConversations(t, store, model.Conversation{ID: "A"})
	busy, _ := store.Threads.BeginRefresh()
	defer func() { _ = store.Threads.Abort(busy, nil) }()

	h := New(newFakeFetcher(), store, nil, nil, Options{})
	if _, err := h.Run(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Errorf("Run() error = %v, want ErrInProgress", err)
	}
}

func TestStartReturnsRunningJobAndCancel(t *testing.T) {
	store := cache.New(nil)
	seedConversations(t, store, model.Conversation{ID: "A"}, model.Conversation{ID: "B"})

	f := newFakeFetcher()
	f.block = make(chan struct{})
	defer close(f.block)
	h := New(f, store, nil, nil, Options{Concurrency: 1})

	j1, started := h.Start()
	if !started {
		t.Fatal("Start() started = false")
	}
	j2, started := h.Start()
	if started || j2 != j1 {
		t.Fatal("second Start() did not return the running job")
	}
	if !j1.Status().Running {
		t.Error("job not running")
	}

	if !h.Cancel() {
		t.Fatal("Cancel() = false")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := j1.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !res.Cancelled || res.RunID != j1.ID {
		t.Errorf("job result = %+v", res)
	}

	st := j1.Status()
	if st.Running || st.FinishedAt == nil || st.Result == nil {
		t.Errorf("job status = %+v", st)
	}
	if h.Cancel() {
		t.Error("Cancel() on finished job = true")
	}
	if h.Current() != j1 {
		t.Error("Current() is not the last job")
	}
}
