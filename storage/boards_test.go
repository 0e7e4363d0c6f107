package storage

import (
	"encoding/json"
	"testing"

	"kanban-api/domain"
)

func TestBoardEntityRoundTrip(t *testing.T) {
	b := domain.Board{
		ID:        "b1",
		Name:      "Roadmap",
		Members:   []string{"u1", "u2"},
		OwnerID:   "u1",
		CreatedAt: 1700000000123,
	}
	payload, err := encodeBoardEntity(b)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeBoardEntity(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ID != b.ID || got.Name != b.Name || got.OwnerID != b.OwnerID || got.CreatedAt != b.CreatedAt {
		t.Fatalf("round trip changed the board: %+v", got)
	}
	if len(got.Members) != 2 || got.Members[0] != "u1" || got.Members[1] != "u2" {
		t.Fatalf("round trip changed the members: %v", got.Members)
	}
}

func TestDecodeBoardEntityEmptyMembers(t *testing.T) {
	payload, err := encodeBoardEntity(domain.Board{ID: "b1", Name: "Roadmap"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeBoardEntity(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got.Members) != 0 {
		t.Fatalf("expected no members, got %v", got.Members)
	}
}

func TestBoardEntityAnnotatesCreatedAt(t *testing.T) {
	payload, err := encodeBoardEntity(domain.Board{ID: "b1", Name: "Roadmap", CreatedAt: 1700000000123})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("payload is not an object: %v", err)
	}
	// Millisecond timestamps overflow the service's 32-bit default typing,
	// so they must travel annotated as Edm.Int64 strings.
	if got := raw["CreatedAt"]; got != "1700000000123" {
		t.Fatalf("expected CreatedAt as a string, got %v (%T)", got, got)
	}
	if got := raw["CreatedAt@odata.type"]; got != "Edm.Int64" {
		t.Fatalf("expected an Edm.Int64 annotation, got %v", got)
	}
}

func TestMembershipFilter(t *testing.T) {
	if got := membershipFilter("u1", 0); got != "PartitionKey eq 'u1'" {
		t.Fatalf("unexpected unbounded filter %q", got)
	}
	want := "PartitionKey eq 'u1' and CreatedAt lt 1700000000123L"
	if got := membershipFilter("u1", 1700000000123); got != want {
		t.Fatalf("unexpected bounded filter %q", got)
	}
	if got := membershipFilter("o'brien", 5); got != "PartitionKey eq 'o''brien' and CreatedAt lt 5L" {
		t.Fatalf("quoting broke the filter: %q", got)
	}
}

func TestEscapeOData(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "o'brien", want: "o''brien"},
		{in: "''", want: "''''"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := escapeOData(tt.in); got != tt.want {
			t.Fatalf("escapeOData(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
