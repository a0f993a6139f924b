package mailfetch

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"

	"github.com/aljonuschka/reservd/config"
)

// ErrMessageNotFound marks a UID the mailbox no longer has. Callers skip
// such messages; they are never fatal to a batch.
var ErrMessageNotFound = errors.New("message not found in mailbox")

// Flags is the per-message seen/answered pair, read fresh from the mailbox
// and never cached across cycles.
type Flags struct {
	Seen     bool
	Answered bool
}

// Handled reports whether the mailbox owner has touched the message. A read
// or replied request is treated as dealt with by the answer workflow.
func (f Flags) Handled() bool {
	return f.Seen || f.Answered
}

// Message is one fetched mailbox message.
type Message struct {
	UID    imap.UID
	Source []byte
	Date   time.Time
	Flags  Flags
}

// Mailbox is the session surface the pipeline works against: a selected
// INBOX on one authenticated connection.
type Mailbox interface {
	SearchSubject(subject string) ([]imap.UID, error)
	Fetch(uid imap.UID) (*Message, error)
	FetchFlags(uid imap.UID) (Flags, error)
	AddSeen(uid imap.UID) error
}

// Transport owns the IMAP connection settings. Every exported operation
// opens its own session and releases it on all exit paths; the protocol is
// stateful and a leaked selected mailbox blocks the next cycle.
type Transport struct {
	conf config.IMAP
}

func NewTransport(conf config.IMAP) *Transport {
	return &Transport{conf: conf}
}

func (t *Transport) dial() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", t.conf.Server, t.conf.Port)
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if err := c.Login(t.conf.Username, t.conf.Password).Wait(); err != nil {
		_ = c.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w", t.conf.Username, err)
	}
	return c, nil
}

// WithInbox runs fn against a freshly selected INBOX and logs out
// afterwards, whatever fn does.
func (t *Transport) WithInbox(fn func(Mailbox) error) error {
	c, err := t.dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout().Wait() }()

	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}
	return fn(&session{c: c})
}

// SetSeen adds \Seen to a single message in its own session. Used by the
// staff reject/undo paths to keep the mailbox consistent with the store.
func (t *Transport) SetSeen(uid uint32) error {
	return t.WithInbox(func(mb Mailbox) error {
		return mb.AddSeen(imap.UID(uid))
	})
}

type session struct {
	c *imapclient.Client
}

func (s *session) SearchSubject(subject string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: subject},
		},
	}
	data, err := s.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching subject %q: %w", subject, err)
	}
	return data.AllUIDs(), nil
}

func (s *session) Fetch(uid imap.UID) (*Message, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	cmd := s.c.Fetch(imap.UIDSetNum(uid), opts)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting UID %d: %w", uid, err)
	}

	source := buf.FindBodySection(bodySection)
	if len(source) == 0 {
		return nil, fmt.Errorf("no source for UID %d", uid)
	}

	m := &Message{
		UID:    uid,
		Source: source,
		Date:   time.Now(),
		Flags:  flagsOf(buf.Flags),
	}
	if buf.Envelope != nil && !buf.Envelope.Date.IsZero() {
		m.Date = buf.Envelope.Date
	}
	return m, nil
}

func (s *session) FetchFlags(uid imap.UID) (Flags, error) {
	opts := &imap.FetchOptions{Flags: true, UID: true}

	cmd := s.c.Fetch(imap.UIDSetNum(uid), opts)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		return Flags{}, ErrMessageNotFound
	}
	buf, err := msg.Collect()
	if err != nil {
		return Flags{}, fmt.Errorf("collecting flags of UID %d: %w", uid, err)
	}
	return flagsOf(buf.Flags), nil
}

func (s *session) AddSeen(uid imap.UID) error {
	cmd := s.c.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("adding \\Seen to UID %d: %w", uid, err)
	}
	return nil
}

func flagsOf(flags []imap.Flag) Flags {
	var f Flags
	for _, flag := range flags {
		switch flag {
		case imap.FlagSeen:
			f.Seen = true
		case imap.FlagAnswered:
			f.Answered = true
		}
	}
	return f
}

// Folder names under which providers file sent mail. First one that
// selects wins.
var sentFolders = []string{"Sent", "INBOX.Sent", "Sent Items", "Gesendet"}

// AppendSent writes a copy of an outgoing notification into the account's
// sent folder so the mailbox owner sees what the system mailed. Best
// effort by contract: the caller logs a failure and moves on.
func (t *Transport) AppendSent(from, to, subject, htmlBody string) error {
	c, err := t.dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout().Wait() }()

	folder := sentFolders[0]
	for _, candidate := range sentFolders {
		if _, err := c.Select(candidate, nil).Wait(); err == nil {
			folder = candidate
			break
		}
	}

	raw := []byte(strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		fmt.Sprintf("Message-ID: <%s@%s>", uuid.New().String(), t.conf.Server),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=utf-8",
		"",
		htmlBody,
	}, "\r\n"))

	appendCmd := c.Append(folder, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
	})
	if _, err := appendCmd.Write(raw); err != nil {
		return fmt.Errorf("writing message to %s: %w", folder, err)
	}
	if err := appendCmd.Close(); err != nil {
		return fmt.Errorf("closing append to %s: %w", folder, err)
	}
	if _, err := appendCmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", folder, err)
	}
	log.Printf("notification copy appended to %s", folder)
	return nil
}
