package models

import (
	"github.com/google/uuid"
)

// User represents a user of the application. Account lifecycle
// (signup, login, password reset) is owned by the accounts service;
// this service only reads users to authorize and annotate messaging.
type User struct {
	Model
	Fullname     string `json:"fullname"`
	Username     string `json:"username"`
	Email        string `json:"email" gorm:"unique;not null"`
	ThumbNailURL string `json:"thumbnail_url,omitempty"`
	IsBlocked    bool   `json:"is_blocked" gorm:"default:false"`
	DeviceToken  string `json:"-"`
	Online       bool   `json:"online"`
}

// PublicUser is the subset of profile fields exposed to the other
// side of a conversation
type PublicUser struct {
	ID           uuid.UUID `json:"id"`
	Fullname     string    `json:"fullname"`
	Username     string    `json:"username"`
	ThumbNailURL string    `json:"thumbnail_url,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:           u.ID,
		Fullname:     u.Fullname,
		Username:     u.Username,
		ThumbNailURL: u.ThumbNailURL,
	}
}
