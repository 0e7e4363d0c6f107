package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
	"kanban-api/feed"
)

type hubEvent struct {
	BoardID string
	Name    string
	Payload any
}

type recordingHub struct {
	mu     sync.Mutex
	events []hubEvent
	ch     chan hubEvent
}

func newRecordingHub() *recordingHub {
	return &recordingHub{ch: make(chan hubEvent, 64)}
}

func (h *recordingHub) Publish(boardID, event string, payload any) {
	h.mu.Lock()
	h.events = append(h.events, hubEvent{BoardID: boardID, Name: event, Payload: payload})
	h.mu.Unlock()
	h.ch <- hubEvent{BoardID: boardID, Name: event, Payload: payload}
}

func (h *recordingHub) wait(t *testing.T) hubEvent {
	t.Helper()
	select {
	case ev := <-h.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return hubEvent{}
}

func (h *recordingHub) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.ch:
		t.Fatalf("unexpected event %s for %s", ev.Name, ev.BoardID)
	case <-time.After(150 * time.Millisecond):
	}
}

type fakeColumns struct {
	columns []domain.Column
	err     error
}

func (f *fakeColumns) FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	return f.columns, f.err
}

type flakyColumns struct {
	mu       sync.Mutex
	failures int
	calls    int
	columns  []domain.Column
}

func (f *flakyColumns) FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("snapshot unavailable")
	}
	return f.columns, nil
}

func setupWatcher(t *testing.T, store Columns) (*Watcher, *feed.Publisher, *recordingHub) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})

	ctx, cancel := context.WithCancel(context.Background())
	hub := newRecordingHub()
	w := New(ctx, feed.NewSource(rc, nil), store, hub, nil)
	t.Cleanup(func() {
		w.Close()
		cancel()
		_ = rc.Close()
		m.Close()
	})
	return w, feed.NewPublisher(rc, nil), hub
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return data
}

func TestListenPublishesBoardUpdates(t *testing.T) {
	w, pub, hub := setupWatcher(t, &fakeColumns{})
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	pub.Publish(ctx, feed.BoardChannel("b1"), feed.Record{
		Kind: feed.Modified,
		ID:   "b1",
		Data: mustJSON(t, domain.Board{ID: "b1", Name: "Roadmap", Members: []string{"u1"}, OwnerID: "u1", CreatedAt: 42}),
	})

	ev := hub.wait(t)
	if ev.Name != domain.EventBoardUpdated || ev.BoardID != "b1" {
		t.Fatalf("unexpected event %s for %s", ev.Name, ev.BoardID)
	}
	payload, ok := ev.Payload.(domain.BoardEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if payload.ID != "b1" || payload.BoardID != "b1" || payload.Name != "Roadmap" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestListenSkipsBoardRemoval(t *testing.T) {
	w, pub, hub := setupWatcher(t, &fakeColumns{})
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	pub.Publish(ctx, feed.BoardChannel("b1"), feed.Record{Kind: feed.Removed, ID: "b1"})
	hub.expectSilence(t)
}

func TestColumnChangesBecomeColumnEvents(t *testing.T) {
	w, pub, hub := setupWatcher(t, &fakeColumns{})
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	steps := []struct {
		kind feed.Kind
		want string
	}{
		{kind: feed.Added, want: domain.EventColumnAdded},
		{kind: feed.Modified, want: domain.EventColumnModified},
		{kind: feed.Removed, want: domain.EventColumnRemoved},
	}
	for _, step := range steps {
		pub.Publish(ctx, feed.ColumnsChannel("b1"), feed.Record{
			Kind: step.kind,
			ID:   "c1",
			Data: mustJSON(t, domain.Column{ID: "c1", Title: "Todo", Order: 1}),
		})
		ev := hub.wait(t)
		if ev.Name != step.want {
			t.Fatalf("expected %s, got %s", step.want, ev.Name)
		}
		payload, ok := ev.Payload.(domain.ColumnEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.ID != "c1" || payload.BoardID != "b1" || payload.Title != "Todo" {
			t.Fatalf("unexpected payload %+v", payload)
		}
	}
}

func TestColumnAdditionOpensTaskWatch(t *testing.T) {
	w, pub, hub := setupWatcher(t, &fakeColumns{})
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	pub.Publish(ctx, feed.ColumnsChannel("b1"), feed.Record{
		Kind: feed.Added,
		ID:   "c1",
		Data: mustJSON(t, domain.Column{ID: "c1", Title: "Todo"}),
	})
	if ev := hub.wait(t); ev.Name != domain.EventColumnAdded {
		t.Fatalf("expected %s, got %s", domain.EventColumnAdded, ev.Name)
	}

	// The task watch for the new column is opened asynchronously; give it a
	// moment to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		pub.Publish(ctx, feed.TasksChannel("b1", "c1"), feed.Record{
			Kind: feed.Added,
			ID:   "t1",
			Data: mustJSON(t, domain.Task{ID: "t1", Title: "Write docs", ColumnID: "c1"}),
		})
		select {
		case ev := <-hub.ch:
			if ev.Name != domain.EventTaskAdded {
				t.Fatalf("expected %s, got %s", domain.EventTaskAdded, ev.Name)
			}
			payload, ok := ev.Payload.(domain.TaskEvent)
			if !ok {
				t.Fatalf("unexpected payload type %T", ev.Payload)
			}
			if payload.ColumnID != "c1" || payload.BoardID != "b1" || payload.ID != "t1" {
				t.Fatalf("unexpected payload %+v", payload)
			}
			return
		case <-time.After(100 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("task watch for the new column never delivered")
			}
		}
	}
}

func TestSnapshotColumnsGetTaskWatches(t *testing.T) {
	store := &fakeColumns{columns: []domain.Column{{ID: "c1", Title: "Todo"}}}
	w, pub, hub := setupWatcher(t, store)
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	pub.Publish(ctx, feed.TasksChannel("b1", "c1"), feed.Record{
		Kind: feed.Modified,
		ID:   "t1",
		Data: mustJSON(t, domain.Task{ID: "t1", Title: "Write docs", Order: 2, ColumnID: "c1"}),
	})

	ev := hub.wait(t)
	if ev.Name != domain.EventTaskModified {
		t.Fatalf("expected %s, got %s", domain.EventTaskModified, ev.Name)
	}
	payload, ok := ev.Payload.(domain.TaskEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if payload.ColumnID != "c1" || payload.Order != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestListenIsIdempotent(t *testing.T) {
	w, pub, hub := setupWatcher(t, &fakeColumns{columns: []domain.Column{{ID: "c1"}}})
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("second listen failed: %v", err)
	}

	pub.Publish(ctx, feed.ColumnsChannel("b1"), feed.Record{
		Kind: feed.Modified,
		ID:   "c1",
		Data: mustJSON(t, domain.Column{ID: "c1", Title: "Todo"}),
	})

	if ev := hub.wait(t); ev.Name != domain.EventColumnModified {
		t.Fatalf("expected %s, got %s", domain.EventColumnModified, ev.Name)
	}
	// A second watch tree would duplicate the event.
	hub.expectSilence(t)
}

func TestListenReportsSnapshotFailure(t *testing.T) {
	w, _, _ := setupWatcher(t, &fakeColumns{err: context.DeadlineExceeded})

	if err := w.Listen(context.Background(), "b1"); err == nil {
		t.Fatal("expected listen to surface the snapshot failure")
	}
}

func TestListenRebuildsAfterSnapshotFailure(t *testing.T) {
	store := &flakyColumns{failures: 1, columns: []domain.Column{{ID: "c1", Title: "Todo"}}}
	w, pub, hub := setupWatcher(t, store)
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err == nil {
		t.Fatal("expected the first listen to fail")
	}
	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	store.mu.Lock()
	calls := store.calls
	store.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected the retry to re-run the column snapshot, got %d reads", calls)
	}

	// The rebuilt tree must cover the pre-existing column's tasks.
	pub.Publish(ctx, feed.TasksChannel("b1", "c1"), feed.Record{
		Kind: feed.Added,
		ID:   "t1",
		Data: mustJSON(t, domain.Task{ID: "t1", Title: "Write docs", ColumnID: "c1"}),
	})
	ev := hub.wait(t)
	if ev.Name != domain.EventTaskAdded {
		t.Fatalf("expected %s, got %s", domain.EventTaskAdded, ev.Name)
	}
	payload, ok := ev.Payload.(domain.TaskEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if payload.ColumnID != "c1" || payload.BoardID != "b1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	w, pub, hub := setupWatcher(t, &fakeColumns{})
	ctx := context.Background()

	if err := w.Listen(ctx, "b1"); err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	w.Close()

	// Give the pumps a moment to wind down before publishing.
	time.Sleep(50 * time.Millisecond)
	pub.Publish(ctx, feed.BoardChannel("b1"), feed.Record{
		Kind: feed.Modified,
		ID:   "b1",
		Data: mustJSON(t, domain.Board{ID: "b1", Name: "Roadmap"}),
	})
	hub.expectSilence(t)
}
