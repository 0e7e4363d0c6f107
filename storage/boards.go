package storage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"kanban-api/domain"
	"kanban-api/feed"
)

// boardPartition keys the single-partition boards table.
const boardPartition = "board"

type boardEntity struct {
	aztables.Entity
	Name          string `json:"Name"`
	Members       string `json:"Members"`
	OwnerID       string `json:"OwnerId"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type membershipEntity struct {
	aztables.Entity
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func decodeBoardEntity(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	b := domain.Board{
		ID:        ent.RowKey,
		Name:      ent.Name,
		OwnerID:   ent.OwnerID,
		CreatedAt: decodeInt64(ent.CreatedAt),
	}
	if ent.Members != "" {
		if err := json.Unmarshal([]byte(ent.Members), &b.Members); err != nil {
			return domain.Board{}, err
		}
	}
	return b, nil
}

func encodeBoardEntity(b domain.Board) ([]byte, error) {
	members, err := json.Marshal(b.Members)
	if err != nil {
		return nil, err
	}
	return json.Marshal(boardEntity{
		Entity:        aztables.Entity{PartitionKey: boardPartition, RowKey: b.ID},
		Name:          b.Name,
		Members:       string(members),
		OwnerID:       b.OwnerID,
		CreatedAt:     encodeInt64(b.CreatedAt),
		CreatedAtType: edmInt64,
	})
}

func boardDoc(b domain.Board) json.RawMessage {
	data, err := json.Marshal(b)
	if err != nil {
		return nil
	}
	return data
}

// CreateBoard writes a new board in a single entity insert and indexes a
// membership row per member. The server assigns id and creation time.
func (s *Storage) CreateBoard(ctx context.Context, name, ownerID string, members []string) (domain.Board, error) {
	b := domain.Board{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: nextCreationTime(),
	}
	seen := map[string]struct{}{ownerID: {}}
	b.Members = append(b.Members, ownerID)
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		b.Members = append(b.Members, m)
	}

	payload, err := encodeBoardEntity(b)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boards.AddEntity(ctx, payload, nil); err != nil {
		return domain.Board{}, err
	}
	for _, m := range b.Members {
		if err := s.putMembership(ctx, m, b.ID, b.CreatedAt); err != nil {
			return domain.Board{}, err
		}
	}

	s.publish(ctx, feed.BoardChannel(b.ID), feed.Record{Kind: feed.Added, ID: b.ID, Data: boardDoc(b)})
	return b, nil
}

// FetchBoard retrieves one board by id.
func (s *Storage) FetchBoard(ctx context.Context, boardID string) (domain.Board, error) {
	resp, err := s.boards.GetEntity(ctx, boardPartition, boardID, nil)
	if err != nil {
		return domain.Board{}, mapNotFound(err)
	}
	return decodeBoardEntity(resp.Value)
}

type boardRef struct {
	id        string
	createdAt int64
}

// membershipFilter scans one user's membership partition. A positive
// startAfter bounds the scan server-side to rows created strictly before
// that millisecond timestamp.
func membershipFilter(userID string, startAfter int64) string {
	filter := "PartitionKey eq '" + escapeOData(userID) + "'"
	if startAfter > 0 {
		filter += " and CreatedAt lt " + encodeInt64(startAfter) + "L"
	}
	return filter
}

// FetchBoardsPage lists the caller's boards in descending creation order.
// A positive startAfter bounds the page to boards created strictly before
// that millisecond timestamp; limit > 0 caps the page length.
func (s *Storage) FetchBoardsPage(ctx context.Context, userID string, startAfter int64, limit int) ([]domain.Board, error) {
	filter := membershipFilter(userID, startAfter)
	pager := s.memberships.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	refs := []boardRef{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent membershipEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			createdAt := decodeInt64(ent.CreatedAt)
			if startAfter > 0 && createdAt >= startAfter {
				continue
			}
			refs = append(refs, boardRef{id: ent.RowKey, createdAt: createdAt})
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].createdAt != refs[j].createdAt {
			return refs[i].createdAt > refs[j].createdAt
		}
		return refs[i].id < refs[j].id
	})
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	boards := make([]domain.Board, 0, len(refs))
	for _, ref := range refs {
		b, err := s.FetchBoard(ctx, ref.id)
		if err != nil {
			// Membership rows can briefly outlive a deleted board while the
			// cleanup worker catches up.
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, nil
}

// DeleteBoard removes the board entity and its membership index rows, then
// hands the orphaned columns and tasks to the cleanup queue.
func (s *Storage) DeleteBoard(ctx context.Context, b domain.Board) error {
	if _, err := s.boards.DeleteEntity(ctx, boardPartition, b.ID, nil); err != nil {
		return mapNotFound(err)
	}
	for _, m := range b.Members {
		if _, err := s.memberships.DeleteEntity(ctx, m, b.ID, nil); err != nil && !isStatus(err, 404) {
			s.logger.Errorf("delete membership %s/%s: %v", m, b.ID, err)
		}
	}
	s.publish(ctx, feed.BoardChannel(b.ID), feed.Record{Kind: feed.Removed, ID: b.ID, Data: boardDoc(b)})
	return s.enqueueCleanup(ctx, b.ID)
}

// AddMembers unions the given subject ids into the board's member set.
// Subjects that are already members are no-ops.
func (s *Storage) AddMembers(ctx context.Context, boardID string, subjects []string) (domain.Board, error) {
	b, err := s.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	added := false
	for _, sub := range subjects {
		if b.HasMember(sub) {
			continue
		}
		b.Members = append(b.Members, sub)
		added = true
		if err := s.putMembership(ctx, sub, b.ID, b.CreatedAt); err != nil {
			return domain.Board{}, err
		}
	}
	if !added {
		return b, nil
	}
	if err := s.mergeBoardMembers(ctx, b); err != nil {
		return domain.Board{}, err
	}
	s.publish(ctx, feed.BoardChannel(b.ID), feed.Record{Kind: feed.Modified, ID: b.ID, Data: boardDoc(b)})
	return b, nil
}

// RemoveMember drops one subject id from the member set. Removing a subject
// that is not a member succeeds and changes nothing.
func (s *Storage) RemoveMember(ctx context.Context, boardID, subject string) (domain.Board, error) {
	b, err := s.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.Board{}, err
	}
	if !b.HasMember(subject) {
		return b, nil
	}
	kept := b.Members[:0]
	for _, m := range b.Members {
		if m != subject {
			kept = append(kept, m)
		}
	}
	b.Members = kept
	if err := s.mergeBoardMembers(ctx, b); err != nil {
		return domain.Board{}, err
	}
	if _, err := s.memberships.DeleteEntity(ctx, subject, b.ID, nil); err != nil && !isStatus(err, 404) {
		s.logger.Errorf("delete membership %s/%s: %v", subject, b.ID, err)
	}
	s.publish(ctx, feed.BoardChannel(b.ID), feed.Record{Kind: feed.Modified, ID: b.ID, Data: boardDoc(b)})
	return b, nil
}

func (s *Storage) mergeBoardMembers(ctx context.Context, b domain.Board) error {
	members, err := json.Marshal(b.Members)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]any{
		"PartitionKey": boardPartition,
		"RowKey":       b.ID,
		"Members":      string(members),
	})
	if err != nil {
		return err
	}
	_, err = s.boards.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (s *Storage) putMembership(ctx context.Context, userID, boardID string, createdAt int64) error {
	payload, err := json.Marshal(membershipEntity{
		Entity:        aztables.Entity{PartitionKey: userID, RowKey: boardID},
		CreatedAt:     encodeInt64(createdAt),
		CreatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	_, err = s.memberships.UpsertEntity(ctx, payload, nil)
	return err
}
