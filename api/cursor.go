package api

import (
	"strconv"
	"strings"

	"kanban-api/domain"
)

// defaultBoardPageSize bounds board listings when the caller does not
// override it.
const defaultBoardPageSize = 5

// encodeBoardCursor derives the next-page cursor from the last board of a
// page: its creation time in milliseconds. Boards without a creation time
// yield no cursor and the page is terminal.
func encodeBoardCursor(last domain.Board) (int64, bool) {
	if last.CreatedAt <= 0 {
		return 0, false
	}
	return last.CreatedAt, true
}

// decodeBoardCursor parses a caller-supplied cursor. Anything that is not a
// positive integer is treated as an absent cursor, not an error: the query
// simply runs unbounded.
func decodeBoardCursor(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
