package importer

import (
	"fmt"
	"log"

	"github.com/aljonuschka/reservd/mailparser"
	"github.com/aljonuschka/reservd/model"
	"github.com/aljonuschka/reservd/store"
)

// Result is the aggregate outcome of one import batch. Partial success is
// the normal case: some candidates insert, others fail, and the batch as a
// whole is still reported, not aborted.
type Result struct {
	Total          int                       `json:"total"`
	ProcessedCount int                       `json:"processed_count"`
	Inserted       []*model.ReservationEmail `json:"inserted"`
	Errors         []string                  `json:"errors"`
}

func (r *Result) Success() bool {
	return len(r.Errors) == 0
}

// Importer persists parsed candidates, deduplicating against the store.
type Importer struct {
	store store.Store
}

func New(st store.Store) *Importer {
	return &Importer{store: st}
}

// Import filters out candidates whose UID is already known, then inserts
// the rest one by one. Each insertion is independent; a failure is recorded
// against its UID and the remaining candidates still get their attempt.
// The store's idempotent insert covers the race where a concurrent cycle
// imports the same UID between our existence check and insert.
func (i *Importer) Import(candidates []*mailparser.Reservation) *Result {
	result := &Result{
		Total:    len(candidates),
		Inserted: []*model.ReservationEmail{},
		Errors:   []string{},
	}

	for _, c := range candidates {
		exists, err := i.store.Exists(c.UID)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to check UID %d: %v", c.UID, err))
			continue
		}
		if exists {
			log.Printf("skipping UID %d, already imported", c.UID)
			continue
		}

		record := toRecord(c)
		if err := i.store.Insert(record); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to import UID %d: %v", c.UID, err))
			continue
		}
		result.Inserted = append(result.Inserted, record)
		result.ProcessedCount++
	}

	return result
}

func toRecord(c *mailparser.Reservation) *model.ReservationEmail {
	return &model.ReservationEmail{
		UID:             c.UID,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Phone:           c.Phone,
		Email:           c.Email,
		ReservationDate: c.ReservationDate,
		ReservationTime: c.ReservationTime,
		Guests:          c.Guests,
		SpecialRequests: c.SpecialRequests,
		ReceivedAt:      c.ReceivedAt,
		Status:          model.StatusPending,
	}
}
