package domain

// Task is a single card inside a column. CreatedAt is a server-assigned
// millisecond timestamp.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	ColumnID  string `json:"columnId"`
	CreatedAt int64  `json:"createdAt"`
}

// TaskPatch carries a partial task update; only non-nil fields change.
type TaskPatch struct {
	Title *string `json:"title"`
	Order *int    `json:"order"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Order == nil
}
