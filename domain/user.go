package domain

// User is the stored profile for an authenticated account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// Identity is what the token verifier extracts from a presented credential.
type Identity struct {
	Subject string
	Email   string
}
