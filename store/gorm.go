package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aljonuschka/reservd/model"
)

// DB implements Store on a gorm connection.
type DB struct {
	db *gorm.DB
}

func New(db *gorm.DB) *DB {
	return &DB{db: db}
}

func (s *DB) MaxUID() (uint32, error) {
	var max uint32
	err := s.db.Model(&model.ReservationEmail{}).
		Select("COALESCE(MAX(uid), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("querying max uid: %w", err)
	}
	return max, nil
}

func (s *DB) Exists(uid uint32) (bool, error) {
	var count int64
	err := s.db.Model(&model.ReservationEmail{}).
		Where("uid = ?", uid).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking uid %d: %w", uid, err)
	}
	return count > 0, nil
}

func (s *DB) Insert(r *model.ReservationEmail) error {
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	// ON CONFLICT DO NOTHING on the uid primary key keeps the insert
	// idempotent across overlapping cycles.
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error
	if err != nil {
		return fmt.Errorf("inserting uid %d: %w", r.UID, err)
	}
	return nil
}

func (s *DB) UpdateStatus(uid uint32, to model.Status) (bool, error) {
	var updated bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var r model.ReservationEmail
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&r, "uid = ?", uid).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !model.CanTransition(r.Status, to) {
			return nil
		}
		if err := tx.Model(&r).Update("status", to).Error; err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("updating status of uid %d: %w", uid, err)
	}
	return updated, nil
}

func (s *DB) ListPending() ([]uint32, error) {
	var uids []uint32
	err := s.db.Model(&model.ReservationEmail{}).
		Where("status = ?", model.StatusPending).
		Order("uid").
		Pluck("uid", &uids).Error
	if err != nil {
		return nil, fmt.Errorf("listing pending reservations: %w", err)
	}
	return uids, nil
}

func (s *DB) Get(uid uint32) (*model.ReservationEmail, error) {
	var r model.ReservationEmail
	if err := s.db.First(&r, "uid = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading uid %d: %w", uid, err)
	}
	return &r, nil
}
