package store

import (
	"fmt"

	"github.com/aljonuschka/reservd/model"
)

// ReservationView is a reservation joined with per-date load figures, the
// shape the staff overview renders.
type ReservationView struct {
	model.ReservationEmail
	ConfirmedReservations int64 `json:"confirmed_reservations"`
	TotalGuestsForDate    int64 `json:"total_guests_for_date"`
}

type dateStat struct {
	ReservationDate string
	ConfirmedCount  int64
	TotalGuests     int64
}

// List returns all reservations, pending first and newest first within a
// group, each annotated with how many confirmed reservations and guests
// its date already carries.
func (s *DB) List() ([]ReservationView, error) {
	var reservations []model.ReservationEmail
	err := s.db.
		Order("CASE WHEN status = 'pending' THEN 0 ELSE 1 END").
		Order("uid DESC").
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("listing reservations: %w", err)
	}

	var stats []dateStat
	err = s.db.Model(&model.ReservationEmail{}).
		Select("reservation_date, COUNT(*) AS confirmed_count, COALESCE(SUM(guests), 0) AS total_guests").
		Where("status = ?", model.StatusConfirmed).
		Group("reservation_date").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating date stats: %w", err)
	}

	return attachStats(reservations, stats), nil
}

func attachStats(reservations []model.ReservationEmail, stats []dateStat) []ReservationView {
	byDate := make(map[string]dateStat, len(stats))
	for _, s := range stats {
		byDate[s.ReservationDate] = s
	}

	views := make([]ReservationView, 0, len(reservations))
	for _, r := range reservations {
		v := ReservationView{ReservationEmail: r}
		if s, ok := byDate[r.ReservationDate]; ok {
			v.ConfirmedReservations = s.ConfirmedCount
			v.TotalGuestsForDate = s.TotalGuests
		}
		views = append(views, v)
	}
	return views
}
