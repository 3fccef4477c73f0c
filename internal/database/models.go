package database

import "time"

// SessionRecord is the durable trace of a terminal session. It outlives the
// in-memory session and the server process so a user can list sessions
// after a restart.
type SessionRecord struct {
	SessionID  string    `gorm:"primaryKey;size:128" json:"session_id"`
	Owner      string    `gorm:"not null;index;size:128" json:"owner"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	LastActive time.Time `gorm:"not null;index" json:"last_active"`
}

// HistoryChunk is one decoded piece of terminal output. Seq is assigned per
// session and is the only ordering key; CreatedAt is for audit.
type HistoryChunk struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"not null;size:128;uniqueIndex:idx_history_session_seq" json:"session_id"`
	Seq       uint64    `gorm:"not null;uniqueIndex:idx_history_session_seq" json:"seq"`
	Chunk     string    `gorm:"type:text;not null" json:"chunk"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

type SystemConfig struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
