package model

import (
	"errors"
	"time"
)

// ErrCredentialsMissing is returned when the address or password is empty.
var ErrCredentialsMissing = errors.New("credentials missing")

// Credentials identify the mailbox account used for login.
type Credentials struct {
	Address  string
	Password string
}

// Validate reports ErrCredentialsMissing unless both fields are set.
func (c Credentials) Validate() error {
	if c.Address == "" || c.Password == "" {
		return ErrCredentialsMissing
	}
	return nil
}

// Folder is a mailbox name as listed by the server.
type Folder struct {
	Name string
}

// Message is a single email retrieved from the server together with its
// decoded attachments.
type Message struct {
	UID         uint32
	Subject     string
	Sender      string
	Date        time.Time
	Attachments []Attachment
}

// Attachment holds the decoded payload of one MIME attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// Entry records the files saved for one message during a fetch run.
type Entry struct {
	Subject string
	Sender  string
	Date    string
	Files   []string
	Status  string
}

const (
	// EntryStatusSuccess marks an entry whose attachments were all written.
	EntryStatusSuccess = "success"
	// EntryStatusDryRun marks an entry produced without writing files.
	EntryStatusDryRun = "dry_run"
)

// DateLayout renders message dates in reports.
const DateLayout = "2006-01-02 15:04:05-07:00"
