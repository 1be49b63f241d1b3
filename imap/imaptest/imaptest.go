// Package imaptest provides an in-memory imap.Dialer for tests of code that
// consumes mail sessions.
package imaptest

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/dhcgn/invoice-fetcher/imap"
	"github.com/dhcgn/invoice-fetcher/model"
)

// Dialer hands out sessions over a shared mailbox. Fields may be set before
// first use; the counters are read after the code under test has run.
type Dialer struct {
	Folders  []model.Folder
	DialErr  error
	ListErr  error
	FetchErr error

	mu       sync.Mutex
	messages []*stored
	dials    int
	closes   int
	fetches  []FetchCall
}

// FetchCall records the arguments of one Session.Fetch call.
type FetchCall struct {
	Criteria imap.Criteria
	MarkSeen bool
}

type stored struct {
	msg  model.Message
	seen bool
}

// Add stores msg as unseen.
func (d *Dialer) Add(msg model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, &stored{msg: msg})
}

// AddSeen stores msg with the \Seen flag already set.
func (d *Dialer) AddSeen(msg model.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, &stored{msg: msg, seen: true})
}

// Seen reports whether the message with uid carries \Seen.
func (d *Dialer) Seen(uid uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.messages {
		if s.msg.UID == uid {
			return s.seen
		}
	}
	return false
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Dialer) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Dialer) FetchCalls() []FetchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FetchCall(nil), d.fetches...)
}

func (d *Dialer) Dial(ctx context.Context, creds model.Credentials) (imap.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	return &session{d: d}, nil
}

type session struct {
	d      *Dialer
	closed bool
}

func (s *session) ListFolders(ctx context.Context) ([]model.Folder, error) {
	if s.closed {
		return nil, imap.ErrSessionClosed
	}
	if s.d.ListErr != nil {
		return nil, s.d.ListErr
	}
	return append([]model.Folder(nil), s.d.Folders...), nil
}

// Fetch matches Subject case-sensitively, like the substring match this
// package stands in for.
func (s *session) Fetch(ctx context.Context, criteria imap.Criteria, markSeen bool) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		s.d.mu.Lock()
		s.d.fetches = append(s.d.fetches, FetchCall{Criteria: criteria, MarkSeen: markSeen})
		var matches []*stored
		for _, st := range s.d.messages {
			if criteria.Unseen && st.seen {
				continue
			}
			if !strings.Contains(st.msg.Subject, criteria.Subject) {
				continue
			}
			matches = append(matches, st)
		}
		fetchErr := s.d.FetchErr
		s.d.mu.Unlock()

		if s.closed {
			yield(model.Message{}, imap.ErrSessionClosed)
			return
		}
		if fetchErr != nil {
			yield(model.Message{}, fetchErr)
			return
		}

		for _, st := range matches {
			if markSeen {
				s.d.mu.Lock()
				st.seen = true
				s.d.mu.Unlock()
			}
			if !yield(st.msg, nil) {
				return
			}
		}
	}
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.d.mu.Lock()
	s.d.closes++
	s.d.mu.Unlock()
	return nil
}
