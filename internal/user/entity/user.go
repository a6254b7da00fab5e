package entity

import "time"

// User represents an account row in the `users` table.
type User struct {
	ID                 int64     `db:"user_id"`
	Username           string    `db:"username"`
	Email              string    `db:"email"`
	PasswordHash       string    `db:"password_hash"`
	EcoLevel           int       `db:"eco_level"`
	IsAdmin            bool      `db:"is_admin"`
	CreatedAt          time.Time `db:"created_at"`
	LastPasswordChange time.Time `db:"last_password_change"`
	LastUsernameChange time.Time `db:"last_username_change"`
}

// PublicUser is the projection safe to send to clients: everything but the hash.
// Snowflake ids exceed 2^53, so user_id travels as a JSON string.
type PublicUser struct {
	ID                 int64     `json:"user_id,string"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	EcoLevel           int       `json:"eco_level"`
	IsAdmin            bool      `json:"is_admin"`
	CreatedAt          time.Time `json:"created_at"`
	LastPasswordChange time.Time `json:"last_password_change"`
	LastUsernameChange time.Time `json:"last_username_change"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		EcoLevel:           u.EcoLevel,
		IsAdmin:            u.IsAdmin,
		CreatedAt:          u.CreatedAt,
		LastPasswordChange: u.LastPasswordChange,
		LastUsernameChange: u.LastUsernameChange,
	}
}

// Badge is a gamification badge unlocked at RequiredLevel.
type Badge struct {
	ID            int64     `db:"badge_id" json:"badge_id"`
	Name          string    `db:"name" json:"name"`
	Description   string    `db:"description" json:"description"`
	Icon          string    `db:"icon" json:"icon"`
	RequiredLevel int       `db:"required_level" json:"required_level"`
	AwardedAt     time.Time `db:"awarded_at" json:"awarded_at"`
}
