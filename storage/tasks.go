package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"kanban-api/domain"
	"kanban-api/feed"
)

type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Order         int    `json:"Order"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

// taskPartition keys one column's tasks. Board and column id combine into
// the partition so a column's tasks list in one partition scan.
func taskPartition(boardID, columnID string) string {
	return boardID + "|" + columnID
}

func decodeTaskEntity(columnID string, data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Order:     ent.Order,
		ColumnID:  columnID,
		CreatedAt: decodeInt64(ent.CreatedAt),
	}, nil
}

func taskDoc(t domain.Task) json.RawMessage {
	data, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	return data
}

// FetchTasks lists every task in one column.
func (s *Storage) FetchTasks(ctx context.Context, boardID, columnID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeOData(taskPartition(boardID, columnID)) + "'"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(columnID, e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// CreateTask inserts a task with a server-assigned id and creation time.
func (s *Storage) CreateTask(ctx context.Context, boardID, columnID, title string, order int) (domain.Task, error) {
	t := domain.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Order:     order,
		ColumnID:  columnID,
		CreatedAt: nextCreationTime(),
	}
	payload, err := json.Marshal(taskEntity{
		Entity:        aztables.Entity{PartitionKey: taskPartition(boardID, columnID), RowKey: t.ID},
		Title:         t.Title,
		Order:         t.Order,
		CreatedAt:     encodeInt64(t.CreatedAt),
		CreatedAtType: edmInt64,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, feed.TasksChannel(boardID, columnID), feed.Record{Kind: feed.Added, ID: t.ID, Data: taskDoc(t)})
	return t, nil
}

// UpdateTask applies a partial patch; only supplied fields change.
func (s *Storage) UpdateTask(ctx context.Context, boardID, columnID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, taskPartition(boardID, columnID), taskID, nil)
	if err != nil {
		return domain.Task{}, mapNotFound(err)
	}
	t, err := decodeTaskEntity(columnID, resp.Value)
	if err != nil {
		return domain.Task{}, err
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Order != nil {
		t.Order = *patch.Order
	}

	merge := map[string]any{
		"PartitionKey": taskPartition(boardID, columnID),
		"RowKey":       taskID,
	}
	if patch.Title != nil {
		merge["Title"] = *patch.Title
	}
	if patch.Order != nil {
		merge["Order"] = *patch.Order
	}
	payload, err := json.Marshal(merge)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.Task{}, err
	}
	s.publish(ctx, feed.TasksChannel(boardID, columnID), feed.Record{Kind: feed.Modified, ID: taskID, Data: taskDoc(t)})
	return t, nil
}

// DeleteTask removes a task outright.
func (s *Storage) DeleteTask(ctx context.Context, boardID, columnID, taskID string) error {
	resp, err := s.tasks.GetEntity(ctx, taskPartition(boardID, columnID), taskID, nil)
	if err != nil {
		return mapNotFound(err)
	}
	t, err := decodeTaskEntity(columnID, resp.Value)
	if err != nil {
		return err
	}
	if _, err := s.tasks.DeleteEntity(ctx, taskPartition(boardID, columnID), taskID, nil); err != nil {
		return mapNotFound(err)
	}
	s.publish(ctx, feed.TasksChannel(boardID, columnID), feed.Record{Kind: feed.Removed, ID: taskID, Data: taskDoc(t)})
	return nil
}

// deleteTasks removes every task under a column, reporting removals on the
// column's tasks channel. Used by the cleanup worker.
func (s *Storage) deleteTasks(ctx context.Context, boardID, columnID string) error {
	tasks, err := s.FetchTasks(ctx, boardID, columnID)
	if err != nil {
		return err
	}
	records := make([]feed.Record, 0, len(tasks))
	for _, t := range tasks {
		if _, err := s.tasks.DeleteEntity(ctx, taskPartition(boardID, columnID), t.ID, nil); err != nil && !isStatus(err, 404) {
			return err
		}
		records = append(records, feed.Record{Kind: feed.Removed, ID: t.ID, Data: taskDoc(t)})
	}
	if len(records) > 0 {
		s.publish(ctx, feed.TasksChannel(boardID, columnID), records...)
	}
	return nil
}
