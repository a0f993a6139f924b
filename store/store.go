package store

import (
	"errors"

	"github.com/aljonuschka/reservd/model"
)

var ErrNotFound = errors.New("reservation not found")

// Store is the persistence contract the ingestion pipeline consumes. The
// mailbox UID is the natural key everywhere.
type Store interface {
	// MaxUID returns the highest imported mailbox UID, 0 when the table is
	// empty. Used as the fetch watermark.
	MaxUID() (uint32, error)
	Exists(uid uint32) (bool, error)
	// Insert persists a new record in pending state. Inserting an already
	// known UID is a no-op, not an error; two overlapping fetch cycles may
	// both get past the existence check.
	Insert(r *model.ReservationEmail) error
	// UpdateStatus applies a lifecycle transition. Returns false without
	// error when the record does not exist or the transition is not
	// defined for its current status.
	UpdateStatus(uid uint32, to model.Status) (bool, error)
	ListPending() ([]uint32, error)
}
