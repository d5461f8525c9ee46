package wpbot

import (
	"time"

	"gorm.io/gorm"
)

type historyRecord struct {
	gorm.Model

	UserID string `gorm:"index"`
	Role   string
	Text   string
	SentAt time.Time
}

func (r historyRecord) toExchange() Exchange {
	return Exchange{Role: Role(r.Role), Text: r.Text, Timestamp: r.SentAt}
}
