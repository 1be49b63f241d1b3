package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"github.com/dhcgn/invoice-fetcher/apperr"
	"github.com/dhcgn/invoice-fetcher/model"
)

var (
	ErrEmptyHost     = errors.New("imap host is empty")
	ErrInvalidPort   = errors.New("imap port must be positive")
	ErrSessionClosed = errors.New("imap session is closed")
)

// Options configures how sessions reach the server.
type Options struct {
	Host               string
	Port               int
	UseTLS             bool
	InsecureSkipVerify bool
}

// Criteria is the server-side search predicate.
type Criteria struct {
	Mailbox string
	Subject string
	Unseen  bool
}

// Session is an authenticated, exclusively owned connection. Close must be
// called on every exit path.
type Session interface {
	ListFolders(ctx context.Context) ([]model.Folder, error)
	// Fetch lazily yields the messages matching criteria. With markSeen the
	// server flags each message \Seen as soon as it has been retrieved,
	// before it is yielded to the caller.
	Fetch(ctx context.Context, criteria Criteria, markSeen bool) iter.Seq2[model.Message, error]
	Close() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, creds model.Credentials) (Session, error)
}

// ClientDialer dials a real IMAP server with go-imap.
type ClientDialer struct {
	opts   Options
	logger *slog.Logger
}

func NewDialer(opts Options, logger *slog.Logger) (*ClientDialer, error) {
	if opts.Host == "" {
		return nil, ErrEmptyHost
	}
	if opts.Port <= 0 {
		return nil, ErrInvalidPort
	}
	return &ClientDialer{opts: opts, logger: logger}, nil
}

// Dial connects and logs in. The returned session is closed when ctx is
// cancelled.
func (d *ClientDialer) Dial(ctx context.Context, creds model.Credentials) (Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, apperr.Config("imap dial", err)
	}

	address := net.JoinHostPort(d.opts.Host, strconv.Itoa(d.opts.Port))
	options := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	if d.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         d.opts.Host,
			InsecureSkipVerify: d.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if d.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, apperr.Connection("", fmt.Errorf("dial imap %s: %w", address, err))
	}

	if err := client.Login(creds.Address, creds.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, apperr.Connection("", fmt.Errorf("imap login failed: %w", err))
	}

	if d.logger != nil {
		d.logger.Debug("imap connection established", "address", address, "user", creds.Address, "tls", d.opts.UseTLS)
	}

	s := &Client{
		client: client,
		logger: d.logger,
		ctx:    ctx,
	}
	s.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	return s, nil
}

// Client is a Session backed by an imapclient connection.
type Client struct {
	client    *imapclient.Client
	logger    *slog.Logger
	ctx       context.Context
	stopClose func() bool

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// ListFolders returns every mailbox visible to the account in server order.
func (c *Client) ListFolders(ctx context.Context) ([]model.Folder, error) {
	if c.closed {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailboxes, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, apperr.Connection("", fmt.Errorf("list mailboxes: %w", err))
	}

	folders := make([]model.Folder, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		folders = append(folders, model.Folder{Name: mbox.Mailbox})
	}
	return folders, nil
}

// Fetch selects criteria.Mailbox, runs a UID SEARCH and then retrieves the
// matches one at a time. Iteration stops at the first error, which is
// yielded with a zero Message.
func (c *Client) Fetch(ctx context.Context, criteria Criteria, markSeen bool) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		uids, err := c.search(ctx, criteria)
		if err != nil {
			yield(model.Message{}, err)
			return
		}
		if c.logger != nil {
			c.logger.Debug("imap search complete", "mailbox", mailboxOrDefault(criteria.Mailbox), "subject", criteria.Subject, "matches", len(uids))
		}

		for _, uid := range uids {
			if err := ctx.Err(); err != nil {
				yield(model.Message{}, err)
				return
			}

			msg, err := c.fetchMessage(uid)
			if err != nil {
				yield(model.Message{}, err)
				return
			}

			if markSeen {
				if err := c.markSeen(uid); err != nil {
					yield(model.Message{}, err)
					return
				}
			}

			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (c *Client) search(ctx context.Context, criteria Criteria) ([]imapv2.UID, error) {
	if c.closed {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailbox := mailboxOrDefault(criteria.Mailbox)
	if _, err := c.client.Select(mailbox, nil).Wait(); err != nil {
		return nil, apperr.Connection("", fmt.Errorf("select %s: %w", mailbox, err))
	}

	searchData, err := c.client.UIDSearch(searchCriteria(criteria), nil).Wait()
	if err != nil {
		return nil, apperr.Connection("", fmt.Errorf("search %s: %w", mailbox, err))
	}
	return searchData.AllUIDs(), nil
}

func searchCriteria(criteria Criteria) *imapv2.SearchCriteria {
	sc := &imapv2.SearchCriteria{}
	if criteria.Unseen {
		sc.NotFlag = []imapv2.Flag{imapv2.FlagSeen}
	}
	if criteria.Subject != "" {
		sc.Header = []imapv2.SearchCriteriaHeaderField{{Key: "Subject", Value: criteria.Subject}}
	}
	return sc
}

func (c *Client) fetchMessage(uid imapv2.UID) (model.Message, error) {
	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(imapv2.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	data := fetchCmd.Next()
	if data == nil {
		if err := fetchCmd.Close(); err != nil {
			return model.Message{}, apperr.Connection("", fmt.Errorf("fetch uid %d: %w", uid, err))
		}
		return model.Message{}, apperr.Connection("", fmt.Errorf("fetch uid %d: message not found", uid))
	}

	buf, err := data.Collect()
	if err != nil {
		return model.Message{}, apperr.Connection("", fmt.Errorf("fetch uid %d: %w", uid, err))
	}
	if err := fetchCmd.Close(); err != nil {
		return model.Message{}, apperr.Connection("", fmt.Errorf("fetch uid %d: %w", uid, err))
	}

	msg := messageFromBuffer(buf)
	if msg.UID == 0 {
		msg.UID = uint32(uid)
	}

	attachments, err := ParseAttachments(buf.FindBodySection(bodySection))
	if err != nil {
		return model.Message{}, apperr.Connection("", fmt.Errorf("parse uid %d: %w", uid, err))
	}
	msg.Attachments = attachments
	return msg, nil
}

func (c *Client) markSeen(uid imapv2.UID) error {
	storeCmd := c.client.Store(imapv2.UIDSetNum(uid), &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return apperr.Connection("", fmt.Errorf("mark uid %d seen: %w", uid, err))
	}
	return nil
}

// Close logs out and closes the connection. It is safe to call more than
// once; only a failed logout is reported.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed = true
		c.stopClose()
		if c.ctx.Err() == nil {
			if err := c.client.Logout().Wait(); err != nil {
				if c.logger != nil {
					c.logger.Warn("imap logout failed", "err", err)
				}
				c.closeErr = apperr.Connection("", fmt.Errorf("imap logout: %w", err))
			}
		}
		if err := c.client.Close(); err != nil && c.logger != nil {
			c.logger.Debug("imap connection closed", "err", err)
		}
	})
	return c.closeErr
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer) model.Message {
	msg := model.Message{UID: uint32(buf.UID)}
	if buf.Envelope == nil {
		return msg
	}

	msg.Subject = buf.Envelope.Subject
	msg.Date = buf.Envelope.Date
	if len(buf.Envelope.From) > 0 {
		msg.Sender = buf.Envelope.From[0].Addr()
	}
	return msg
}

func mailboxOrDefault(mailbox string) string {
	if mailbox == "" {
		return "INBOX"
	}
	return mailbox
}
