package model

import "time"

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	FamilyID    *string   `json:"family_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Scope returns the identifier the user's items are keyed under: the family
// id while a member of one, otherwise the user's own id.
func (u *User) Scope() string {
	if u.FamilyID != nil && *u.FamilyID != "" {
		return *u.FamilyID
	}
	return u.ID
}
