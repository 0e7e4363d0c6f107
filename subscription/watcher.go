// Package subscription maintains the live watch tree for each board: one
// watch on the board document, one on its columns, and one per column's
// tasks. Normalized change batches are translated into named events and
// handed to the broadcaster.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/feed"
)

// Hub receives translated events for a board's subscribers.
type Hub interface {
	Publish(boardID, event string, payload any)
}

// Columns provides the one-off snapshot read of a board's current columns.
type Columns interface {
	FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error)
}

// Source opens change feeds by channel name.
type Source interface {
	Watch(ctx context.Context, channel string) (*feed.Feed, error)
}

// Watcher owns every open watch in the process. Watches live until the
// watcher is closed; a column's task watch is not torn down when the column
// goes away.
type Watcher struct {
	ctx    context.Context
	src    Source
	store  Columns
	hub    Hub
	logger *log.Logger

	mu     sync.Mutex
	boards map[string]*boardWatch
}

type boardWatch struct {
	ctx         context.Context
	cancel      context.CancelFunc
	taskWatches map[string]struct{}
}

// New creates a Watcher. ctx bounds the lifetime of every watch it opens.
func New(ctx context.Context, src Source, store Columns, hub Hub, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Watcher{
		ctx:    ctx,
		src:    src,
		store:  store,
		hub:    hub,
		logger: logger,
	}
}

// Listen establishes the watch tree for a board. Calling it again for the
// same board is a no-op. The request context bounds only the initial column
// snapshot; the watches themselves outlive the request.
func (w *Watcher) Listen(ctx context.Context, boardID string) error {
	w.mu.Lock()
	if w.boards == nil {
		w.boards = make(map[string]*boardWatch)
	}
	if _, ok := w.boards[boardID]; ok {
		w.mu.Unlock()
		return nil
	}

	watchCtx, cancel := context.WithCancel(w.ctx)
	boardFeed, err := w.src.Watch(watchCtx, feed.BoardChannel(boardID))
	if err != nil {
		cancel()
		w.mu.Unlock()
		return err
	}
	columnsFeed, err := w.src.Watch(watchCtx, feed.ColumnsChannel(boardID))
	if err != nil {
		cancel()
		w.mu.Unlock()
		return err
	}
	w.boards[boardID] = &boardWatch{ctx: watchCtx, cancel: cancel, taskWatches: make(map[string]struct{})}
	w.mu.Unlock()

	go w.pumpBoard(boardID, boardFeed)
	go w.pumpColumns(boardID, columnsFeed)

	// Columns created before the columns watch delivers its first batch
	// would otherwise never get a task watch. A column can slip in between
	// this snapshot and the first batch; watchTasks is idempotent per
	// column, so the duplicate attempt is a no-op.
	columns, err := w.store.FetchColumns(ctx, boardID)
	if err != nil {
		// A half-built tree must not stay registered: the next Listen for
		// this board has to rebuild it, snapshot included.
		w.logger.Errorf("watch %s: column snapshot: %v", boardID, err)
		w.drop(boardID)
		return err
	}
	for _, col := range columns {
		w.watchTasks(boardID, col.ID)
	}
	return nil
}

// drop cancels a board's watches and removes its registration.
func (w *Watcher) drop(boardID string) {
	w.mu.Lock()
	if bw, ok := w.boards[boardID]; ok {
		bw.cancel()
		delete(w.boards, boardID)
	}
	w.mu.Unlock()
}

// Close tears down every open watch.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, bw := range w.boards {
		bw.cancel()
	}
	w.boards = nil
}

// watchTasks opens the task watch for one column. At most one watch exists
// per (board, column) pair.
func (w *Watcher) watchTasks(boardID, columnID string) {
	w.mu.Lock()
	bw, ok := w.boards[boardID]
	if !ok {
		w.mu.Unlock()
		return
	}
	if _, ok := bw.taskWatches[columnID]; ok {
		w.mu.Unlock()
		return
	}
	tasksFeed, err := w.src.Watch(bw.ctx, feed.TasksChannel(boardID, columnID))
	if err != nil {
		w.mu.Unlock()
		w.logger.Errorf("watch %s: tasks of %s: %v", boardID, columnID, err)
		return
	}
	bw.taskWatches[columnID] = struct{}{}
	w.mu.Unlock()

	go w.pumpTasks(boardID, columnID, tasksFeed)
}

func (w *Watcher) pumpBoard(boardID string, f *feed.Feed) {
	for batch := range f.Updates() {
		for _, rec := range batch {
			if rec.Kind == feed.Removed {
				continue
			}
			var b domain.Board
			if err := json.Unmarshal(rec.Data, &b); err != nil {
				w.logger.Errorf("watch %s: board payload: %v", boardID, err)
				continue
			}
			w.hub.Publish(boardID, domain.EventBoardUpdated, domain.BoardEvent{
				ID:        rec.ID,
				BoardID:   boardID,
				Name:      b.Name,
				Members:   b.Members,
				OwnerID:   b.OwnerID,
				CreatedAt: b.CreatedAt,
			})
		}
	}
	w.logWatchEnd("board "+boardID, f)
}

func (w *Watcher) pumpColumns(boardID string, f *feed.Feed) {
	for batch := range f.Updates() {
		for _, rec := range batch {
			var col domain.Column
			if err := json.Unmarshal(rec.Data, &col); err != nil {
				w.logger.Errorf("watch %s: column payload: %v", boardID, err)
				continue
			}
			event, ok := columnEventName(rec.Kind)
			if !ok {
				continue
			}
			w.hub.Publish(boardID, event, domain.ColumnEvent{
				ID:      rec.ID,
				BoardID: boardID,
				Title:   col.Title,
				Order:   col.Order,
			})
			if rec.Kind == feed.Added {
				w.watchTasks(boardID, rec.ID)
			}
		}
	}
	w.logWatchEnd("columns of "+boardID, f)
}

func (w *Watcher) pumpTasks(boardID, columnID string, f *feed.Feed) {
	for batch := range f.Updates() {
		for _, rec := range batch {
			var t domain.Task
			if err := json.Unmarshal(rec.Data, &t); err != nil {
				w.logger.Errorf("watch %s: task payload: %v", boardID, err)
				continue
			}
			event, ok := taskEventName(rec.Kind)
			if !ok {
				continue
			}
			w.hub.Publish(boardID, event, domain.TaskEvent{
				ID:        rec.ID,
				BoardID:   boardID,
				ColumnID:  columnID,
				Title:     t.Title,
				Order:     t.Order,
				CreatedAt: t.CreatedAt,
			})
		}
	}
	w.logWatchEnd("tasks "+boardID+"/"+columnID, f)
}

func (w *Watcher) logWatchEnd(what string, f *feed.Feed) {
	err := f.Err()
	switch {
	case feed.IsTerminated(err):
		w.logger.Errorf("watch on %s lost its subscription", what)
	case err != nil && !errors.Is(err, context.Canceled):
		w.logger.Errorf("watch on %s ended: %v", what, err)
	default:
		w.logger.Debugf("watch on %s closed", what)
	}
}

func columnEventName(k feed.Kind) (string, bool) {
	switch k {
	case feed.Added:
		return domain.EventColumnAdded, true
	case feed.Modified:
		return domain.EventColumnModified, true
	case feed.Removed:
		return domain.EventColumnRemoved, true
	}
	return "", false
}

func taskEventName(k feed.Kind) (string, bool) {
	switch k {
	case feed.Added:
		return domain.EventTaskAdded, true
	case feed.Modified:
		return domain.EventTaskModified, true
	case feed.Removed:
		return domain.EventTaskRemoved, true
	}
	return "", false
}
