package domain

// Column is a lane inside a board. Order drives display sequence; it is not
// required to be unique or contiguous, equal values fall back to id order.
type Column struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	BoardID string `json:"boardId"`
}

// ColumnPatch carries the fields of a column upsert. Nil fields are left
// untouched when the column already exists.
type ColumnPatch struct {
	Title *string `json:"title"`
	Order *int    `json:"order"`
}
