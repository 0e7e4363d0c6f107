package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.Board, error)
	FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	FetchTasks(ctx context.Context, boardID, columnID string) ([]domain.Task, error)
	CreateBoard(ctx context.Context, name, ownerID string, members []string) (domain.Board, error)
	DeleteBoard(ctx context.Context, b domain.Board) error
	AddMembers(ctx context.Context, boardID string, subjects []string) (domain.Board, error)
	RemoveMember(ctx context.Context, boardID, subject string) (domain.Board, error)
	UpsertColumn(ctx context.Context, boardID, columnID string, patch domain.ColumnPatch) (domain.Column, bool, error)
	CreateTask(ctx context.Context, boardID, columnID, title string, order int) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID, columnID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, columnID, taskID string) error
}

// Cache wraps a Storage instance with Redis-backed caching for the hot
// board-content reads. Writes pass through and evict what they touched.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var b domain.Board
	if c.load(ctx, boardCacheKey(boardID), &b) {
		return b, nil
	}
	b, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, boardCacheKey(boardID), b)
	return b, nil
}

func (c *Cache) FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	var cols []domain.Column
	if c.load(ctx, columnsCacheKey(boardID), &cols) {
		return cols, nil
	}
	cols, err := c.base.FetchColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, columnsCacheKey(boardID), cols)
	return cols, nil
}

func (c *Cache) FetchTasks(ctx context.Context, boardID, columnID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, tasksCacheKey(boardID, columnID), &tasks) {
		return tasks, nil
	}
	tasks, err := c.base.FetchTasks(ctx, boardID, columnID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(boardID, columnID), tasks)
	return tasks, nil
}

func (c *Cache) CreateBoard(ctx context.Context, name, ownerID string, members []string) (domain.Board, error) {
	return c.base.CreateBoard(ctx, name, ownerID, members)
}

func (c *Cache) DeleteBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.DeleteBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, boardCacheKey(b.ID), columnsCacheKey(b.ID))
	return nil
}

func (c *Cache) AddMembers(ctx context.Context, boardID string, subjects []string) (domain.Board, error) {
	b, err := c.base.AddMembers(ctx, boardID, subjects)
	if err != nil {
		return domain.Board{}, err
	}
	c.evict(ctx, boardCacheKey(boardID))
	return b, nil
}

func (c *Cache) RemoveMember(ctx context.Context, boardID, subject string) (domain.Board, error) {
	b, err := c.base.RemoveMember(ctx, boardID, subject)
	if err != nil {
		return domain.Board{}, err
	}
	c.evict(ctx, boardCacheKey(boardID))
	return b, nil
}

func (c *Cache) UpsertColumn(ctx context.Context, boardID, columnID string, patch domain.ColumnPatch) (domain.Column, bool, error) {
	col, created, err := c.base.UpsertColumn(ctx, boardID, columnID, patch)
	if err != nil {
		return domain.Column{}, false, err
	}
	c.evict(ctx, columnsCacheKey(boardID))
	return col, created, nil
}

func (c *Cache) CreateTask(ctx context.Context, boardID, columnID, title string, order int) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, boardID, columnID, title, order)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(boardID, columnID))
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, boardID, columnID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, boardID, columnID, taskID, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(boardID, columnID))
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, boardID, columnID, taskID string) error {
	if err := c.base.DeleteTask(ctx, boardID, columnID, taskID); err != nil {
		return err
	}
	c.evict(ctx, tasksCacheKey(boardID, columnID))
	return nil
}

// CleanupBoard drops a deleted board's leftover columns and tasks, then
// evicts the cached reads of everything that went with them. Without this
// the per-column task keys would serve stale entries until their TTL.
func (c *Cache) CleanupBoard(ctx context.Context, boardID string) ([]domain.Column, error) {
	columns, err := c.Storage.CleanupBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.evictBoardTree(ctx, boardID, columns)
	return columns, nil
}

// RunCleanupWorker runs the queue drain loop with cache eviction applied
// to every board it cleans.
func (c *Cache) RunCleanupWorker(ctx context.Context) {
	c.Storage.runCleanupWorker(ctx, c.CleanupBoard)
}

func (c *Cache) evictBoardTree(ctx context.Context, boardID string, columns []domain.Column) {
	keys := []string{boardCacheKey(boardID), columnsCacheKey(boardID)}
	for _, col := range columns {
		keys = append(keys, tasksCacheKey(boardID, col.ID))
	}
	c.evict(ctx, keys...)
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}

func columnsCacheKey(boardID string) string {
	return "columns:" + boardID
}

func tasksCacheKey(boardID, columnID string) string {
	return "tasks:" + boardID + ":" + columnID
}
