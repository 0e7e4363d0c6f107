package domain

// Event names delivered on a board's real-time channel.
const (
	EventBoardUpdated   = "boardUpdated"
	EventColumnAdded    = "columnAdded"
	EventColumnModified = "columnModified"
	EventColumnRemoved  = "columnRemoved"
	EventTaskAdded      = "taskAdded"
	EventTaskModified   = "taskModified"
	EventTaskRemoved    = "taskRemoved"
)

// BoardEvent is the payload for boardUpdated.
type BoardEvent struct {
	ID        string   `json:"id"`
	BoardID   string   `json:"boardId"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	OwnerID   string   `json:"ownerId"`
	CreatedAt int64    `json:"createdAt"`
}

// ColumnEvent is the payload for columnAdded/Modified/Removed.
type ColumnEvent struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
}

// TaskEvent is the payload for taskAdded/Modified/Removed.
type TaskEvent struct {
	ID        string `json:"id"`
	BoardID   string `json:"boardId"`
	ColumnID  string `json:"columnId"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}
