// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DropProgress caches the most advanced locally observed watch-minute
// count per drop, so progress survives restarts and is never regressed by
// a stale platform snapshot.
type DropProgress struct {
	DropId    string `gorm:"primaryKey"`
	Minutes   int
	UpdatedAt time.Time
}

// DropClaim records a claimed drop. Claims are terminal, so rows are only
// ever inserted.
type DropClaim struct {
	DropId     string `gorm:"primaryKey"`
	CampaignId string
	ClaimedAt  time.Time
}

// MigrateModels is the set of models auto-migrated at open
var MigrateModels = []any{
	&DropProgress{},
	&DropClaim{},
}

// Store is a small SQLite-backed state cache. Uses an in-memory database
// when dataDir is empty, which is also what the tests use.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New creates a state cache in the given data directory, creating the
// directory if needed
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	var stateDb *gorm.DB
	var err error
	if dataDir == "" {
		stateDb, err = gorm.Open(
			sqlite.Open("file::memory:?cache=shared"),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		statePath := filepath.Join(dataDir, "state.sqlite")
		connOpts := "_pragma=journal_mode(WAL)&_pragma=sync(OFF)"
		stateDb, err = gorm.Open(
			sqlite.Open(fmt.Sprintf("file:%s?%s", statePath, connOpts)),
			&gorm.Config{
				Logger:                 gormlogger.Discard,
				SkipDefaultTransaction: true,
			},
		)
		if err != nil {
			return nil, err
		}
	}
	s := &Store{
		db:     stateDb,
		logger: logger,
	}
	for _, model := range MigrateModels {
		if err := s.db.AutoMigrate(model); err != nil {
			return s, err
		}
	}
	return s, nil
}

// RecordProgress upserts the observed minute count for a drop, keeping
// the maximum ever seen
func (s *Store) RecordProgress(dropId string, minutes int) error {
	var existing DropProgress
	result := s.db.First(&existing, "drop_id = ?", dropId)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
	} else if existing.Minutes >= minutes {
		return nil
	}
	row := DropProgress{
		DropId:    dropId,
		Minutes:   minutes,
		UpdatedAt: time.Now(),
	}
	return s.db.Save(&row).Error
}

// RecordClaim marks a drop claimed. Idempotent.
func (s *Store) RecordClaim(dropId, campaignId string) error {
	row := DropClaim{
		DropId:     dropId,
		CampaignId: campaignId,
		ClaimedAt:  time.Now(),
	}
	result := s.db.Where("drop_id = ?", dropId).
		FirstOrCreate(&row)
	return result.Error
}

// Progress returns all cached per-drop minute counts
func (s *Store) Progress() (map[string]int, error) {
	var rows []DropProgress
	if result := s.db.Find(&rows); result.Error != nil {
		return nil, result.Error
	}
	ret := make(map[string]int, len(rows))
	for _, row := range rows {
		ret[row.DropId] = row.Minutes
	}
	return ret, nil
}

// Claims returns the set of drop ids recorded as claimed
func (s *Store) Claims() (map[string]bool, error) {
	var rows []DropClaim
	if result := s.db.Find(&rows); result.Error != nil {
		return nil, result.Error
	}
	ret := make(map[string]bool, len(rows))
	for _, row := range rows {
		ret[row.DropId] = true
	}
	return ret, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
