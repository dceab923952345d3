// Package chat answers free-text health questions from the document
// index, remembering per-session conversations and caching answers until
// the index is rebuilt.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"health-assistant/internal/retrieval"
)

// versionTolerance is how far a stored index version may drift from the
// current one and still count as equal.
const versionTolerance = 1e-6

// Cache stores answers keyed by the literal question text. An entry is
// only returned while the index version it was stored under is current.
type Cache interface {
	Get(ctx context.Context, question string) (string, bool, error)
	// Put stores answer under the index version it was built from. An
	// answer built before a rebuild is therefore never served after it.
	Put(ctx context.Context, question, answer string, version float64) error
	// Version is the current index version entries are checked against.
	Version() float64
}

type CachedAnswer struct {
	Question     string `gorm:"primaryKey"`
	Answer       string `gorm:"type:text"`
	IndexVersion float64
	UpdatedAt    time.Time
}

func (CachedAnswer) TableName() string { return "cache" }

func sameVersion(a, b float64) bool {
	return math.Abs(a-b) < versionTolerance
}

type sqliteCache struct {
	db       *gorm.DB
	versions retrieval.VersionSource
}

func NewSQLiteCache(db *gorm.DB, versions retrieval.VersionSource) Cache {
	return &sqliteCache{db: db, versions: versions}
}

func (c *sqliteCache) Get(ctx context.Context, question string) (string, bool, error) {
	var row CachedAnswer
	err := c.db.WithContext(ctx).Where("question = ?", question).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	if !sameVersion(row.IndexVersion, c.versions.Version()) {
		return "", false, nil
	}
	return row.Answer, true, nil
}

func (c *sqliteCache) Version() float64 { return c.versions.Version() }

func (c *sqliteCache) Put(ctx context.Context, question, answer string, version float64) error {
	row := CachedAnswer{
		Question:     question,
		Answer:       answer,
		IndexVersion: version,
		UpdatedAt:    time.Now(),
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "question"}},
		DoUpdates: clause.AssignmentColumns([]string{"answer", "index_version", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
