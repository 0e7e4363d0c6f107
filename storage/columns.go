package storage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
	"kanban-api/feed"
)

type columnEntity struct {
	aztables.Entity
	Title string `json:"Title"`
	Order int    `json:"Order"`
}

func decodeColumnEntity(data []byte) (domain.Column, error) {
	var ent columnEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Column{}, err
	}
	return domain.Column{
		ID:      ent.RowKey,
		Title:   ent.Title,
		Order:   ent.Order,
		BoardID: ent.PartitionKey,
	}, nil
}

func columnDoc(c domain.Column) json.RawMessage {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}

// FetchColumns lists a board's columns in display order. Equal order values
// fall back to id order so the sequence is deterministic.
func (s *Storage) FetchColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	filter := "PartitionKey eq '" + escapeOData(boardID) + "'"
	pager := s.columns.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	columns := []domain.Column{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			col, err := decodeColumnEntity(e)
			if err != nil {
				return nil, err
			}
			columns = append(columns, col)
		}
	}
	sort.Slice(columns, func(i, j int) bool {
		if columns[i].Order != columns[j].Order {
			return columns[i].Order < columns[j].Order
		}
		return columns[i].ID < columns[j].ID
	})
	return columns, nil
}

// UpsertColumn creates the column when absent and merges the supplied fields
// when present; unspecified fields are never clobbered. The returned flag
// reports whether the column was newly created.
func (s *Storage) UpsertColumn(ctx context.Context, boardID, columnID string, patch domain.ColumnPatch) (domain.Column, bool, error) {
	col := domain.Column{ID: columnID, BoardID: boardID}
	created := false

	resp, err := s.columns.GetEntity(ctx, boardID, columnID, nil)
	switch {
	case err == nil:
		col, err = decodeColumnEntity(resp.Value)
		if err != nil {
			return domain.Column{}, false, err
		}
	case isStatus(err, 404):
		created = true
	default:
		return domain.Column{}, false, err
	}

	if patch.Title != nil {
		col.Title = *patch.Title
	}
	if patch.Order != nil {
		col.Order = *patch.Order
	}

	payload, err := json.Marshal(columnEntity{
		Entity: aztables.Entity{PartitionKey: boardID, RowKey: columnID},
		Title:  col.Title,
		Order:  col.Order,
	})
	if err != nil {
		return domain.Column{}, false, err
	}
	if _, err := s.columns.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.Column{}, false, err
	}

	kind := feed.Modified
	if created {
		kind = feed.Added
	}
	s.publish(ctx, feed.ColumnsChannel(boardID), feed.Record{Kind: kind, ID: columnID, Data: columnDoc(col)})
	return col, created, nil
}

// deleteColumns removes every column of a board and reports the removals on
// the board's columns channel. Used by the cleanup worker.
func (s *Storage) deleteColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	columns, err := s.FetchColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	records := make([]feed.Record, 0, len(columns))
	for _, col := range columns {
		if _, err := s.columns.DeleteEntity(ctx, boardID, col.ID, nil); err != nil && !isStatus(err, 404) {
			return nil, err
		}
		records = append(records, feed.Record{Kind: feed.Removed, ID: col.ID, Data: columnDoc(col)})
	}
	if len(records) > 0 {
		s.publish(ctx, feed.ColumnsChannel(boardID), records...)
	}
	return columns, nil
}
