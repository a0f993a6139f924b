package mailfetch

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/emersion/go-imap/v2"

	"github.com/aljonuschka/reservd/importer"
	"github.com/aljonuschka/reservd/mailparser"
	"github.com/aljonuschka/reservd/model"
	"github.com/aljonuschka/reservd/store"
)

// ProcessResult is the aggregate outcome of one fetch-and-reconcile cycle.
// A non-empty error list does not make the cycle itself a failure; partial
// success is a first-class outcome and callers read the counts to tell the
// difference.
type ProcessResult struct {
	ProcessedCount        int                       `json:"processed_count"`
	NewReservations       []*model.ReservationEmail `json:"new_reservations"`
	ConfirmedByFlagsCount int                       `json:"confirmed_by_flags_count"`
	PendingCheckedCount   int                       `json:"pending_checked_count"`
	PendingConfirmedCount int                       `json:"pending_confirmed_count"`
	Errors                []string                  `json:"errors"`
}

func (r *ProcessResult) Success() bool {
	return len(r.Errors) == 0
}

// SessionOpener abstracts the transport for testing; Transport is the real
// implementation.
type SessionOpener interface {
	WithInbox(fn func(Mailbox) error) error
}

// Archiver stores the raw source of imported messages for audit. Optional;
// failures are logged and reported, never fatal.
type Archiver interface {
	Archive(uid uint32, raw []byte) error
}

// Pipeline runs the ingestion cycle: fetch new reservation requests above
// the store watermark, reconcile mailbox flags with record status, import
// what is new, and sweep still-pending records. All cross-cycle state lives
// in the store; a Pipeline holds no mutable state of its own and each Run
// uses exactly one mailbox session.
type Pipeline struct {
	transport SessionOpener
	store     store.Store
	importer  *importer.Importer
	subject   string
	archive   Archiver
}

func NewPipeline(transport SessionOpener, st store.Store, subject string) *Pipeline {
	return &Pipeline{
		transport: transport,
		store:     st,
		importer:  importer.New(st),
		subject:   subject,
	}
}

// WithArchive attaches a raw-message archive for newly imported records.
func (p *Pipeline) WithArchive(a Archiver) *Pipeline {
	p.archive = a
	return p
}

// Run executes one full cycle. Connection or authentication failure aborts
// the cycle and is returned as an error; everything that can go wrong on a
// single message ends up in the result's error list instead.
func (p *Pipeline) Run() (*ProcessResult, error) {
	result := &ProcessResult{
		NewReservations: []*model.ReservationEmail{},
		Errors:          []string{},
	}

	err := p.transport.WithInbox(func(mb Mailbox) error {
		maxUID, err := p.store.MaxUID()
		if err != nil {
			return fmt.Errorf("reading watermark: %w", err)
		}
		log.Printf("max imported UID: %d", maxUID)

		uids, err := mb.SearchSubject(p.subject)
		if err != nil {
			return err
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

		candidates, raws := p.collectNew(mb, uids, maxUID, result)

		imported := p.importer.Import(candidates)
		result.NewReservations = imported.Inserted
		result.Errors = append(result.Errors, imported.Errors...)

		p.archiveImported(imported.Inserted, raws)

		justImported := make(map[uint32]bool, len(imported.Inserted))
		for _, rec := range imported.Inserted {
			justImported[rec.UID] = true
		}
		p.sweepPending(mb, result, justImported)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("cycle done: processed=%d new=%d confirmed=%d pending_checked=%d pending_confirmed=%d errors=%d",
		result.ProcessedCount, len(result.NewReservations), result.ConfirmedByFlagsCount,
		result.PendingCheckedCount, result.PendingConfirmedCount, len(result.Errors))
	return result, nil
}

// CheckPending runs only the reconciliation sweep over still-pending
// records, without searching for new mail. Staff trigger this to pick up
// requests they answered directly from the mailbox.
func (p *Pipeline) CheckPending() (*ProcessResult, error) {
	result := &ProcessResult{
		NewReservations: []*model.ReservationEmail{},
		Errors:          []string{},
	}
	err := p.transport.WithInbox(func(mb Mailbox) error {
		p.sweepPending(mb, result, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// collectNew walks the search result newest-first until it reaches the
// watermark, parsing each unhandled message into a candidate. Messages the
// owner already read or answered only confirm an existing record; when no
// record exists yet they are parsed like any other candidate, so a read
// request still gets imported (as pending, never auto-confirmed).
func (p *Pipeline) collectNew(mb Mailbox, uids []imap.UID, maxUID uint32, result *ProcessResult) ([]*mailparser.Reservation, map[uint32][]byte) {
	var candidates []*mailparser.Reservation
	raws := make(map[uint32][]byte)

	for _, imapUID := range uids {
		uid := uint32(imapUID)
		if uid <= maxUID {
			log.Printf("stopped at UID %d, already processed", uid)
			break
		}

		msg, err := mb.Fetch(imapUID)
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				log.Printf("UID %d missing from mailbox, skipping", uid)
				continue
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("error fetching UID %d: %v", uid, err))
			continue
		}
		result.ProcessedCount++

		if msg.Flags.Handled() {
			exists, err := p.store.Exists(uid)
			if err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("error checking UID %d: %v", uid, err))
				continue
			}
			if exists {
				confirmed, err := p.resolveFlags(mb, uid, msg.Flags, true)
				if err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("error confirming UID %d: %v", uid, err))
				} else if confirmed {
					result.ConfirmedByFlagsCount++
				}
				continue
			}
		}

		body := mailparser.ExtractBody(msg.Source)
		if body == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("no readable body for UID %d", uid))
			continue
		}
		r, err := mailparser.ParseReservation(body, msg.Date)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("error parsing UID %d: %v", uid, err))
			continue
		}
		r.UID = uid
		candidates = append(candidates, r)
		raws[uid] = msg.Source
	}

	return candidates, raws
}

// sweepPending re-checks every still-pending record against its current
// mailbox flags. A message can be read or answered long after the cycle
// that imported it, so this runs on every poll until the record converges
// out of pending. Records imported in this same cycle are excluded: a
// request the owner read before it was ever imported still needs an
// explicit decision, not an auto-confirm on arrival.
func (p *Pipeline) sweepPending(mb Mailbox, result *ProcessResult, skip map[uint32]bool) {
	pending, err := p.store.ListPending()
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("error listing pending reservations: %v", err))
		return
	}

	for _, uid := range pending {
		if skip[uid] {
			continue
		}
		result.PendingCheckedCount++

		flags, err := mb.FetchFlags(imap.UID(uid))
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				log.Printf("pending UID %d missing from mailbox, keeping last status", uid)
				continue
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("error checking pending UID %d: %v", uid, err))
			continue
		}
		if !flags.Handled() {
			continue
		}

		confirmed, err := p.resolveFlags(mb, uid, flags, true)
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("error confirming pending UID %d: %v", uid, err))
			continue
		}
		if confirmed {
			result.PendingConfirmedCount++
		} else {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to update status for UID %d", uid))
		}
	}
}

// resolveFlags is the shared terminal step of both reconciliation flows:
// a handled message whose record is already persisted moves to confirmed,
// and the \Seen flag is force-set on the mailbox side for consistency.
// Unpersisted candidates are never auto-confirmed here. Setting \Seen is
// best effort and only logged.
func (p *Pipeline) resolveFlags(mb Mailbox, uid uint32, flags Flags, persisted bool) (bool, error) {
	if !flags.Handled() || !persisted {
		return false, nil
	}
	updated, err := p.store.UpdateStatus(uid, model.StatusConfirmed)
	if err != nil {
		return false, err
	}
	if updated && !flags.Seen {
		if err := mb.AddSeen(imap.UID(uid)); err != nil {
			log.Printf("failed to set \\Seen on UID %d: %v", uid, err)
		}
	}
	return updated, nil
}

func (p *Pipeline) archiveImported(inserted []*model.ReservationEmail, raws map[uint32][]byte) {
	if p.archive == nil {
		return
	}
	for _, rec := range inserted {
		raw, ok := raws[rec.UID]
		if !ok {
			continue
		}
		if err := p.archive.Archive(rec.UID, raw); err != nil {
			log.Printf("failed to archive UID %d: %v", rec.UID, err)
		}
	}
}
