// Package invoice downloads PDF attachments from unread messages whose
// subject matches a filter.
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dhcgn/invoice-fetcher/apperr"
	"github.com/dhcgn/invoice-fetcher/filter"
	"github.com/dhcgn/invoice-fetcher/imap"
	"github.com/dhcgn/invoice-fetcher/model"
	"github.com/dhcgn/invoice-fetcher/stats"
)

type Options struct {
	Dir     string
	Mailbox string
	Subject string
	DryRun  bool
}

type Fetcher struct {
	opts      Options
	dialer    imap.Dialer
	filter    *filter.Filter
	collector *stats.Collector
	logger    *slog.Logger
}

// New returns a Fetcher. A nil filter selects PDF attachments; a nil
// collector disables stats.
func New(opts Options, dialer imap.Dialer, f *filter.Filter, collector *stats.Collector, logger *slog.Logger) (*Fetcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("download directory is empty")
	}
	if opts.Subject == "" {
		return nil, fmt.Errorf("subject filter is empty")
	}
	if dialer == nil {
		return nil, fmt.Errorf("dialer must not be nil")
	}
	if f == nil {
		var err error
		f, err = filter.New(filter.Options{})
		if err != nil {
			return nil, err
		}
	}
	return &Fetcher{
		opts:      opts,
		dialer:    dialer,
		filter:    f,
		collector: collector,
		logger:    logger,
	}, nil
}

// Run performs one fetch pass and returns the processed-entry log. On error
// the entries accumulated so far are returned alongside it; files already
// written and flags already set stay as they are.
func (f *Fetcher) Run(ctx context.Context, creds model.Credentials) ([]model.Entry, error) {
	if err := creds.Validate(); err != nil {
		return nil, apperr.Config("load credentials", err)
	}

	if err := os.MkdirAll(f.opts.Dir, 0o755); err != nil {
		return nil, apperr.IO("", fmt.Errorf("create download dir: %w", err))
	}

	session, err := f.dialer.Dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil && f.logger != nil {
			f.logger.Warn("close session", "err", err)
		}
	}()

	criteria := imap.Criteria{
		Mailbox: f.opts.Mailbox,
		Subject: f.opts.Subject,
		Unseen:  true,
	}

	entries := []model.Entry{}
	for msg, err := range session.Fetch(ctx, criteria, !f.opts.DryRun) {
		if err != nil {
			f.collector.Record(stats.Event{Type: stats.EventTypeError, Err: err})
			return entries, err
		}
		f.collector.Record(stats.Event{Type: stats.EventTypeMatched, UID: msg.UID})

		entry, ok, err := f.process(msg)
		if err != nil {
			f.collector.Record(stats.Event{Type: stats.EventTypeError, UID: msg.UID, Err: err})
			return entries, err
		}
		if !ok {
			f.collector.Record(stats.Event{Type: stats.EventTypeSkipped, UID: msg.UID})
			if f.logger != nil {
				f.logger.Debug("no matching attachments", "uid", msg.UID, "subject", msg.Subject)
			}
			continue
		}

		f.collector.Record(stats.Event{Type: stats.EventTypeProcessed, UID: msg.UID})
		entries = append(entries, entry)
	}

	return entries, nil
}

// process saves the selected attachments of msg. ok is false when nothing
// was selected.
func (f *Fetcher) process(msg model.Message) (model.Entry, bool, error) {
	var saved []string
	for _, att := range msg.Attachments {
		if !f.filter.Allows(att.Filename) {
			f.collector.Record(stats.Event{Type: stats.EventTypeRejected, UID: msg.UID, Filename: att.Filename})
			continue
		}

		name := FileName(msg.UID, att.Filename)
		if f.opts.DryRun {
			f.collector.Record(stats.Event{Type: stats.EventTypeDryRun, UID: msg.UID, Filename: name})
			saved = append(saved, name)
			continue
		}

		path := filepath.Join(f.opts.Dir, name)
		if err := os.WriteFile(path, att.Payload, 0o644); err != nil {
			return model.Entry{}, false, apperr.IO("", fmt.Errorf("save attachment: %w", err))
		}
		f.collector.Record(stats.Event{Type: stats.EventTypeSaved, UID: msg.UID, Filename: name})
		if f.logger != nil {
			f.logger.Info("saved attachment", "uid", msg.UID, "file", path, "bytes", len(att.Payload))
		}
		saved = append(saved, name)
	}

	if len(saved) == 0 {
		return model.Entry{}, false, nil
	}

	status := model.EntryStatusSuccess
	if f.opts.DryRun {
		status = model.EntryStatusDryRun
	}
	return model.Entry{
		Subject: msg.Subject,
		Sender:  msg.Sender,
		Date:    FormatDate(msg),
		Files:   saved,
		Status:  status,
	}, true, nil
}

// FileName returns the on-disk name for an attachment of message uid. Only
// the base name of filename is kept so the result stays inside the download
// directory.
func FileName(uid uint32, filename string) string {
	base := filepath.Base(filepath.FromSlash(filename))
	if base == "." || base == string(filepath.Separator) {
		base = "attachment.pdf"
	}
	return fmt.Sprintf("%d_%s", uid, base)
}

// FormatDate renders the message date for reports. A missing date is empty.
func FormatDate(msg model.Message) string {
	if msg.Date.IsZero() {
		return ""
	}
	return msg.Date.Format(model.DateLayout)
}
