package mailfetch

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/aljonuschka/reservd/model"
)

const testSubject = "[aljonuschka] Reservierungsanfragen - neue Einreichung"

func rawMessage(firstName, date, timeOfDay string) []byte {
	return []byte(strings.Join([]string{
		"Subject: " + testSubject,
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Vorname: " + firstName,
		"Nachname: Muster",
		"Telefon: 01755551234",
		"E-Mail-Adresse: a@x.de",
		"Datum wählen: " + date,
		"Choose a time: " + timeOfDay,
		"Anzahl Personen: 4 Personen",
		"",
	}, "\r\n"))
}

type fakeMailbox struct {
	search    []imap.UID
	msgs      map[imap.UID]*Message
	seenAdded []imap.UID
}

func (f *fakeMailbox) SearchSubject(subject string) ([]imap.UID, error) {
	if subject != testSubject {
		return nil, nil
	}
	return f.search, nil
}

func (f *fakeMailbox) Fetch(uid imap.UID) (*Message, error) {
	msg, ok := f.msgs[uid]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (f *fakeMailbox) FetchFlags(uid imap.UID) (Flags, error) {
	msg, ok := f.msgs[uid]
	if !ok {
		return Flags{}, ErrMessageNotFound
	}
	return msg.Flags, nil
}

func (f *fakeMailbox) AddSeen(uid imap.UID) error {
	f.seenAdded = append(f.seenAdded, uid)
	return nil
}

type fakeOpener struct {
	mb      *fakeMailbox
	dialErr error
}

func (f *fakeOpener) WithInbox(fn func(Mailbox) error) error {
	if f.dialErr != nil {
		return f.dialErr
	}
	return fn(f.mb)
}

type fakeStore struct {
	records map[uint32]*model.ReservationEmail
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uint32]*model.ReservationEmail)}
}

func (f *fakeStore) MaxUID() (uint32, error) {
	var max uint32
	for uid := range f.records {
		if uid > max {
			max = uid
		}
	}
	return max, nil
}

func (f *fakeStore) Exists(uid uint32) (bool, error) {
	_, ok := f.records[uid]
	return ok, nil
}

func (f *fakeStore) Insert(r *model.ReservationEmail) error {
	if _, ok := f.records[r.UID]; !ok {
		f.records[r.UID] = r
	}
	return nil
}

func (f *fakeStore) UpdateStatus(uid uint32, to model.Status) (bool, error) {
	r, ok := f.records[uid]
	if !ok || !model.CanTransition(r.Status, to) {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (f *fakeStore) ListPending() ([]uint32, error) {
	var uids []uint32
	for uid, r := range f.records {
		if r.Status == model.StatusPending {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func message(uid imap.UID, flags Flags, raw []byte) *Message {
	return &Message{
		UID:    uid,
		Source: raw,
		Date:   time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC),
		Flags:  flags,
	}
}

func TestRunImportsNewMessages(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{5, 6},
		msgs: map[imap.UID]*Message{
			5: message(5, Flags{}, rawMessage("Anna", "02.07.2025", "19:30")),
			6: message(6, Flags{}, rawMessage("Bernd", "03.07.2025", "18:00")),
		},
	}
	st := newFakeStore()
	p := NewPipeline(&fakeOpener{mb: mb}, st, testSubject)

	result, err := p.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Run() errors = %v", result.Errors)
	}
	if result.ProcessedCount != 2 {
		t.Errorf("ProcessedCount = %d; want 2", result.ProcessedCount)
	}
	if len(result.NewReservations) != 2 {
		t.Errorf("NewReservations = %d; want 2", len(result.NewReservations))
	}
	for _, r := range result.NewReservations {
		if r.Status != model.StatusPending {
			t.Errorf("UID %d status = %q; want pending", r.UID, r.Status)
		}
	}
}

func TestRunRespectsWatermark(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{4, 5, 6},
		msgs: map[imap.UID]*Message{
			4: message(4, Flags{}, rawMessage("Alt", "01.07.2025", "18:00")),
			5: message(5, Flags{}, rawMessage("Anna", "02.07.2025", "19:30")),
			6: message(6, Flags{}, rawMessage("Bernd", "03.07.2025", "18:00")),
		},
	}
	st := newFakeStore()
	st.records[5] = &model.ReservationEmail{UID: 5, Status: model.StatusConfirmed}

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.NewReservations) != 1 || result.NewReservations[0].UID != 6 {
		t.Errorf("NewReservations = %+v; want only UID 6", result.NewReservations)
	}
}

func TestRunConfirmsHandledImportedMessage(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{7},
		msgs: map[imap.UID]*Message{
			7: message(7, Flags{Answered: true}, rawMessage("Anna", "02.07.2025", "19:30")),
		},
	}
	st := newFakeStore()
	// Imported by an earlier partial cycle but above the watermark of this
	// store state is impossible; emulate by keeping only UID 7 pending.
	st.records[7] = &model.ReservationEmail{UID: 7, Status: model.StatusPending}

	// Watermark equals 7, so the new-message flow skips it; the pending
	// sweep still reconciles the answered flag.
	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.PendingConfirmedCount != 1 {
		t.Errorf("PendingConfirmedCount = %d; want 1", result.PendingConfirmedCount)
	}
	if st.records[7].Status != model.StatusConfirmed {
		t.Errorf("status = %q; want confirmed", st.records[7].Status)
	}
	if len(mb.seenAdded) != 1 || mb.seenAdded[0] != 7 {
		t.Errorf("seenAdded = %v; want [7]", mb.seenAdded)
	}
}

func TestRunHandledUnimportedMessageBecomesPendingCandidate(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{8},
		msgs: map[imap.UID]*Message{
			8: message(8, Flags{Seen: true}, rawMessage("Anna", "02.07.2025", "19:30")),
		},
	}
	st := newFakeStore()

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.ConfirmedByFlagsCount != 0 {
		t.Errorf("ConfirmedByFlagsCount = %d; want 0, nothing existed to confirm", result.ConfirmedByFlagsCount)
	}
	if len(result.NewReservations) != 1 {
		t.Fatalf("NewReservations = %d; want 1", len(result.NewReservations))
	}
	if got := result.NewReservations[0].Status; got != model.StatusPending {
		t.Errorf("status = %q; want pending", got)
	}
}

func TestRunBadMessageDoesNotAbortBatch(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{5, 6, 7},
		msgs: map[imap.UID]*Message{
			5: message(5, Flags{}, rawMessage("Anna", "02.07.2025", "19:30")),
			6: message(6, Flags{}, []byte("Subject: x\r\n\r\nVorname: Kaputt\r\nChoose a time: 19:00\r\n")),
			7: message(7, Flags{}, rawMessage("Clara", "04.07.2025", "20:00")),
		},
	}
	st := newFakeStore()

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success() {
		t.Error("Success() = true; want false, one message has no date")
	}
	if len(result.NewReservations) != 2 {
		t.Errorf("NewReservations = %d; want 2", len(result.NewReservations))
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "UID 6") {
		t.Errorf("Errors = %v; want one parse error for UID 6", result.Errors)
	}
}

func TestRunMissingMessageSkippedWithoutError(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{5, 6},
		msgs: map[imap.UID]*Message{
			5: message(5, Flags{}, rawMessage("Anna", "02.07.2025", "19:30")),
		},
	}
	st := newFakeStore()

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Errorf("Errors = %v; a deleted message must not be an error", result.Errors)
	}
	if len(result.NewReservations) != 1 {
		t.Errorf("NewReservations = %d; want 1", len(result.NewReservations))
	}
}

func TestRunPendingSweepKeepsUntouchedRecords(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{},
		msgs: map[imap.UID]*Message{
			3: message(3, Flags{}, rawMessage("Anna", "02.07.2025", "19:30")),
		},
	}
	st := newFakeStore()
	st.records[3] = &model.ReservationEmail{UID: 3, Status: model.StatusPending}
	st.records[4] = &model.ReservationEmail{UID: 4, Status: model.StatusPending} // deleted from mailbox

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.PendingCheckedCount != 2 {
		t.Errorf("PendingCheckedCount = %d; want 2", result.PendingCheckedCount)
	}
	if result.PendingConfirmedCount != 0 {
		t.Errorf("PendingConfirmedCount = %d; want 0", result.PendingConfirmedCount)
	}
	if st.records[3].Status != model.StatusPending || st.records[4].Status != model.StatusPending {
		t.Error("untouched pending records must keep their status")
	}
	if !result.Success() {
		t.Errorf("Errors = %v; want none", result.Errors)
	}
}

func TestRunTransportFailureIsFatal(t *testing.T) {
	opener := &fakeOpener{dialErr: fmt.Errorf("authenticating user: %w", errors.New("LOGIN failed"))}
	st := newFakeStore()

	_, err := NewPipeline(opener, st, testSubject).Run()
	if err == nil {
		t.Fatal("Run() error = nil; want fatal transport error")
	}
}

type fakeArchive struct {
	archived map[uint32][]byte
	fail     bool
}

func (f *fakeArchive) Archive(uid uint32, raw []byte) error {
	if f.fail {
		return errors.New("upload failed")
	}
	if f.archived == nil {
		f.archived = make(map[uint32][]byte)
	}
	f.archived[uid] = raw
	return nil
}

func TestRunArchivesImportedMessages(t *testing.T) {
	raw := rawMessage("Anna", "02.07.2025", "19:30")
	mb := &fakeMailbox{
		search: []imap.UID{5},
		msgs:   map[imap.UID]*Message{5: message(5, Flags{}, raw)},
	}
	st := newFakeStore()
	ar := &fakeArchive{}

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).WithArchive(ar).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success() {
		t.Fatalf("Errors = %v", result.Errors)
	}
	if string(ar.archived[5]) != string(raw) {
		t.Error("raw source of imported message not archived")
	}
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	mb := &fakeMailbox{
		search: []imap.UID{5},
		msgs:   map[imap.UID]*Message{5: message(5, Flags{}, rawMessage("Anna", "02.07.2025", "19:30"))},
	}
	st := newFakeStore()

	result, err := NewPipeline(&fakeOpener{mb: mb}, st, testSubject).WithArchive(&fakeArchive{fail: true}).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.NewReservations) != 1 {
		t.Errorf("NewReservations = %d; want 1, archive failure is best effort", len(result.NewReservations))
	}
}
