package models

import "time"

// User represents an application user as seen by the token service.
// AccessToken is the user's stable access credential; refresh tokens reference it
// instead of any short-lived access token payload.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Email        string    `bson:"email" json:"email"`
	Name         string    `bson:"name" json:"name"`
	OIDCSub      string    `bson:"oidcSub,omitempty" json:"-"`
	PasswordHash []byte    `bson:"passwordHash,omitempty" json:"-"`
	AccessToken  string    `bson:"accessToken" json:"-"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Attributes returns the snapshot embedded into access tokens and returned to clients.
// Credentials never leave the server.
func (u *User) Attributes() map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"name":      u.Name,
		"createdAt": u.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
