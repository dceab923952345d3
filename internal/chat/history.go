package chat

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one message of a session. ID increases with every insert, so
// ordering by it reproduces the conversation.
type Turn struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index"`
	Role      Role
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (Turn) TableName() string { return "messages" }

// Models lists the tables the history database needs migrated.
var Models = []any{&Turn{}, &CachedAnswer{}}

type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// Append stores the turns in order within one transaction.
func (h *History) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range turns {
			t := turns[i]
			t.ID = 0
			t.SessionID = sessionID
			if err := tx.Create(&t).Error; err != nil {
				return fmt.Errorf("append turn: %w", err)
			}
		}
		return nil
	})
}

// Turns returns the session's messages in insertion order.
func (h *History) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	var turns []Turn
	err := h.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return turns, nil
}
