package model

import "time"

const (
	DefaultEmail       = "unknown@email.com"
	DefaultDisplayName = "Anonymous User"
)

type (
	User struct {
		ID          string    `json:"id" bson:"_id"`
		ExternalKey string    `json:"-" bson:"external_key"`
		DisplayName string    `json:"name" bson:"name"`
		Email       string    `json:"email" bson:"email"`
		AvatarRef   string    `json:"avatar,omitempty" bson:"avatar,omitempty"`
		CreatedAt   time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
	}

	// Profile holds the mutable fields refreshed on every identity sync.
	Profile struct {
		DisplayName string `json:"name"`
		Email       string `json:"email"`
		AvatarRef   string `json:"avatar,omitempty"`
	}
)

// WithDefaults fills blank name/email the same way first-time sign-ins are shown.
func (p Profile) WithDefaults() Profile {
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	if p.Email == "" {
		p.Email = DefaultEmail
	}
	return p
}
