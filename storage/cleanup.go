package storage

import (
	"context"
	"encoding/json"
	"time"

	"kanban-api/domain"
)

// cleanupMessage is the queue payload for a deleted board whose columns and
// tasks still need removing.
type cleanupMessage struct {
	BoardID string `json:"boardId"`
}

func (s *Storage) enqueueCleanup(ctx context.Context, boardID string) error {
	data, err := json.Marshal(cleanupMessage{BoardID: boardID})
	if err != nil {
		return err
	}
	_, err = s.cleanupQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// CleanupBoard deletes every column and task left behind by a board
// deletion and reports which columns it removed.
func (s *Storage) CleanupBoard(ctx context.Context, boardID string) ([]domain.Column, error) {
	columns, err := s.deleteColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	for _, col := range columns {
		if err := s.deleteTasks(ctx, boardID, col.ID); err != nil {
			return nil, err
		}
	}
	return columns, nil
}

type boardCleaner func(ctx context.Context, boardID string) ([]domain.Column, error)

// RunCleanupWorker drains the cleanup queue until the context is done.
// Failed messages are left on the queue and retried after their visibility
// timeout expires.
func (s *Storage) RunCleanupWorker(ctx context.Context) {
	s.runCleanupWorker(ctx, s.CleanupBoard)
}

func (s *Storage) runCleanupWorker(ctx context.Context, clean boardCleaner) {
	s.logger.Info("cleanup worker started")
	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := s.cleanupQueue.DequeueMessage(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Errorf("cleanup dequeue: %v", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(resp.Messages) == 0 {
			sleepCtx(ctx, time.Second)
			continue
		}
		msg := resp.Messages[0]
		if msg.MessageText == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		var cm cleanupMessage
		if err := json.Unmarshal([]byte(*msg.MessageText), &cm); err != nil {
			s.logger.Errorf("cleanup message: %v", err)
		} else if _, err := clean(ctx, cm.BoardID); err != nil {
			s.logger.Errorf("cleanup board %s: %v", cm.BoardID, err)
			continue
		}
		if _, err := s.cleanupQueue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			s.logger.Errorf("cleanup ack: %v", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
