package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store is the sqlite-backed durable storage for session records, history
// chunks and system configuration. It is safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open creates the database directory if needed, opens the sqlite file in
// WAL mode and migrates the schema. Use ":memory:" for a throwaway store.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dbDir := filepath.Dir(dbPath)
		if dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting into several empty ones.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}, &HistoryChunk{}, &SystemConfig{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// History

// AppendHistory inserts one chunk and trims the session to its keep most
// recent chunks. Seq must be strictly increasing per session.
func (s *Store) AppendHistory(ctx context.Context, sessionID string, seq uint64, chunk string, at time.Time, keep int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := HistoryChunk{SessionID: sessionID, Seq: seq, Chunk: chunk, CreatedAt: at.UTC()}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
		if keep > 0 && seq > uint64(keep) {
			if err := tx.Where("session_id = ? AND seq <= ?", sessionID, seq-uint64(keep)).
				Delete(&HistoryChunk{}).Error; err != nil {
				return fmt.Errorf("trim history: %w", err)
			}
		}
		return nil
	})
}

// GetHistory returns every retained chunk of a session, oldest first.
func (s *Store) GetHistory(ctx context.Context, sessionID string) ([]HistoryChunk, error) {
	var chunks []HistoryChunk
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return chunks, nil
}

// DeleteHistory purges every chunk of a session.
func (s *Store) DeleteHistory(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&HistoryChunk{}).Error
}

// MaxSeq returns the highest sequence number stored for a session, or 0.
func (s *Store) MaxSeq(ctx context.Context, sessionID string) (uint64, error) {
	var maxSeq sql.NullInt64
	if err := s.db.WithContext(ctx).Model(&HistoryChunk{}).
		Where("session_id = ?", sessionID).
		Select("MAX(seq)").
		Row().Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	if !maxSeq.Valid {
		return 0, nil
	}
	return uint64(maxSeq.Int64), nil
}

// Session records

// CreateSessionRecord inserts the record or, when the id already exists,
// replaces it so the new owner and timestamps win.
func (s *Store) CreateSessionRecord(ctx context.Context, sessionID, owner string) error {
	now := time.Now().UTC()
	rec := SessionRecord{SessionID: sessionID, Owner: owner, CreatedAt: now, LastActive: now}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *Store) UpdateLastActive(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&SessionRecord{}).
		Where("session_id = ?", sessionID).
		Update("last_active", time.Now().UTC()).Error
}

func (s *Store) DeleteSessionRecord(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&SessionRecord{}).Error
}

func (s *Store) GetSessionRecord(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions returns the records owned by owner, most recently active first.
func (s *Store) ListSessions(ctx context.Context, owner string) ([]SessionRecord, error) {
	var recs []SessionRecord
	if err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("last_active DESC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return recs, nil
}

// StaleSessions returns records whose last activity is before cutoff.
func (s *Store) StaleSessions(ctx context.Context, cutoff time.Time) ([]SessionRecord, error) {
	var recs []SessionRecord
	if err := s.db.WithContext(ctx).
		Where("last_active < ?", cutoff.UTC()).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	return recs, nil
}

// System config

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var c SystemConfig
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&SystemConfig{Key: key, Value: value}).Error
}
