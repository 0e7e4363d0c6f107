package api

import (
	"strconv"
	"testing"

	"kanban-api/domain"
)

func TestEncodeBoardCursor(t *testing.T) {
	b := domain.Board{ID: "b1", CreatedAt: 1700000000123}
	cursor, ok := encodeBoardCursor(b)
	if !ok {
		t.Fatal("expected a cursor for a board with a creation time")
	}
	if cursor != 1700000000123 {
		t.Fatalf("expected cursor 1700000000123, got %d", cursor)
	}
}

func TestEncodeBoardCursorMissingCreatedAt(t *testing.T) {
	if _, ok := encodeBoardCursor(domain.Board{ID: "b1"}); ok {
		t.Fatal("expected no cursor for a board without a creation time")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	b := domain.Board{ID: "b1", CreatedAt: 1234567890}
	cursor, ok := encodeBoardCursor(b)
	if !ok {
		t.Fatal("expected a cursor")
	}
	decoded, ok := decodeBoardCursor(strconv.FormatInt(cursor, 10))
	if !ok {
		t.Fatal("expected round-tripped cursor to decode")
	}
	if decoded != b.CreatedAt {
		t.Fatalf("round trip changed the timestamp: %d != %d", decoded, b.CreatedAt)
	}
}

func TestDecodeBoardCursorMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "   "},
		{name: "non numeric", raw: "abc"},
		{name: "zero", raw: "0"},
		{name: "negative", raw: "-42"},
		{name: "fractional", raw: "12.5"},
		{name: "overflow", raw: "99999999999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v, ok := decodeBoardCursor(tt.raw); ok {
				t.Fatalf("decodeBoardCursor(%q) = %d, expected absent", tt.raw, v)
			}
		})
	}
}

func TestDecodeBoardCursorValid(t *testing.T) {
	v, ok := decodeBoardCursor(" 1700000000123 ")
	if !ok {
		t.Fatal("expected cursor to decode")
	}
	if v != 1700000000123 {
		t.Fatalf("expected 1700000000123, got %d", v)
	}
}
