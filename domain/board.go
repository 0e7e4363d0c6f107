package domain

// Board is a top-level kanban board. Members holds the subject ids of every
// account allowed to see the board, owner included; membership is a set and
// order carries no meaning.
type Board struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	OwnerID   string   `json:"ownerId"`
	CreatedAt int64    `json:"createdAt"`
}

// HasMember reports whether the given subject id belongs to the board.
func (b Board) HasMember(subject string) bool {
	for _, m := range b.Members {
		if m == subject {
			return true
		}
	}
	return false
}
