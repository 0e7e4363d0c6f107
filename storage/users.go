package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
)

const userPartition = "user"

type userEntity struct {
	aztables.Entity
	Email       string `json:"Email"`
	DisplayName string `json:"DisplayName"`
}

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.RowKey, Email: ent.Email, DisplayName: ent.DisplayName}, nil
}

// EnsureUser records the identity's subject/email pair. Existing rows keep
// their display name; only the email is merged in.
func (s *Storage) EnsureUser(ctx context.Context, ident domain.Identity) error {
	payload, err := json.Marshal(map[string]any{
		"PartitionKey": userPartition,
		"RowKey":       ident.Subject,
		"Email":        ident.Email,
	})
	if err != nil {
		return err
	}
	_, err = s.users.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

// FetchUser retrieves one profile by subject id.
func (s *Storage) FetchUser(ctx context.Context, subject string) (domain.User, error) {
	resp, err := s.users.GetEntity(ctx, userPartition, subject, nil)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return decodeUserEntity(resp.Value)
}

// LookupUserByEmail resolves an email address to a known profile.
func (s *Storage) LookupUserByEmail(ctx context.Context, email string) (domain.User, error) {
	filter := "Email eq '" + escapeOData(email) + "'"
	pager := s.users.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.User{}, err
		}
		for _, e := range resp.Entities {
			return decodeUserEntity(e)
		}
	}
	return domain.User{}, ErrNotFound
}

// UpdateDisplayName sets the profile's display name.
func (s *Storage) UpdateDisplayName(ctx context.Context, subject, name string) (domain.User, error) {
	payload, err := json.Marshal(map[string]any{
		"PartitionKey": userPartition,
		"RowKey":       subject,
		"DisplayName":  name,
	})
	if err != nil {
		return domain.User{}, err
	}
	if _, err := s.users.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return domain.User{}, err
	}
	return s.FetchUser(ctx, subject)
}
