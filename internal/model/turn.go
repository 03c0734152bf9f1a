package model

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// NormalizeRole maps anything that is not a user turn to the model role.
// Older writers stored "assistant".
func NormalizeRole(role string) Role {
	if role == string(RoleUser) {
		return RoleUser
	}
	return RoleModel
}

type Turn struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	Role      Role      `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
