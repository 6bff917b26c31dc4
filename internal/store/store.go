// Package store persists judge credentials and per-color score totals.
// Authentication is a plain credential lookup; each credential is bound to
// the combat its judges score.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrInvalidCredential = errors.New("unknown credential")
var ErrCredentialExists = errors.New("credential already exists")

type User struct {
	ID       uint   `gorm:"primaryKey"`
	Password string `gorm:"uniqueIndex;not null"`
	CombatID string `gorm:"not null"`
}

type ScoreTotal struct {
	ID       uint   `gorm:"primaryKey"`
	CombatID string `gorm:"uniqueIndex:idx_combat_color;not null"`
	Color    string `gorm:"uniqueIndex:idx_combat_color;not null"`
	Points   int    `gorm:"not null;default:0"`
}

type Store struct {
	db *gorm.DB
}

// Open connects to postgres and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &ScoreTotal{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle; used by tests.
func NewWithDB(db *gorm.DB) *Store { return &Store{db: db} }

// Authenticate maps a credential to its combat id. Comparison is plaintext
// by design of the deployed system.
func (s *Store) Authenticate(ctx context.Context, password string) (string, error) {
	var user User
	err := s.db.WithContext(ctx).Where("password = ?", password).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInvalidCredential
	}
	if err != nil {
		return "", fmt.Errorf("look up credential: %w", err)
	}
	return user.CombatID, nil
}

// CreateUser registers a new credential for a combat.
func (s *Store) CreateUser(ctx context.Context, password, combatID string) error {
	err := s.db.WithContext(ctx).Create(&User{Password: password, CombatID: combatID}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCredentialExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// RecordScore adds points to the running total for a color within a combat,
// creating the row on first score.
func (s *Store) RecordScore(ctx context.Context, combatID string, color string, points int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := ScoreTotal{CombatID: combatID, Color: color}
		if err := tx.Where(&row).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("ensure score row: %w", err)
		}
		err := tx.Model(&row).UpdateColumn("points", gorm.Expr("points + ?", points)).Error
		if err != nil {
			return fmt.Errorf("add points: %w", err)
		}
		return nil
	})
}

// Totals returns the current points per color for a combat. Colors with no
// scores yet are absent.
func (s *Store) Totals(ctx context.Context, combatID string) (map[string]int, error) {
	var rows []ScoreTotal
	err := s.db.WithContext(ctx).Where("combat_id = ?", combatID).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load score totals: %w", err)
	}
	totals := make(map[string]int, len(rows))
	for _, row := range rows {
		totals[row.Color] = row.Points
	}
	return totals, nil
}

// ResetScores zeroes every color total for a combat.
func (s *Store) ResetScores(ctx context.Context, combatID string) error {
	err := s.db.WithContext(ctx).
		Model(&ScoreTotal{}).
		Where("combat_id = ?", combatID).
		UpdateColumn("points", 0).Error
	if err != nil {
		return fmt.Errorf("reset score totals: %w", err)
	}
	return nil
}
