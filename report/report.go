// Package report defines the JSON objects printed on standard output. Each
// run prints exactly one of them.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dhcgn/invoice-fetcher/model"
)

const (
	StatusSuccess  = "success"
	StatusComplete = "complete"
	StatusError    = "error"

	MessageAuthenticated      = "Authentication successful."
	MessageCredentialsMissing = "Credentials missing. Check .env file."
	HintAppPassword           = "Ensure 'Less Secure Apps' is allowed OR use an App Password."

	// FolderSampleSize caps folder_sample in the connectivity report.
	FolderSampleSize = 5
)

type CheckSuccess struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	Account      string   `json:"account"`
	FolderCount  int      `json:"folder_count"`
	FolderSample []string `json:"folder_sample"`
}

type Error struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

type FetchComplete struct {
	Status          string   `json:"status"`
	EmailsProcessed int      `json:"emails_processed"`
	Details         []Detail `json:"details"`
}

type Detail struct {
	EmailSubject    string   `json:"email_subject"`
	Sender          string   `json:"sender"`
	Date            string   `json:"date"`
	FilesDownloaded []string `json:"files_downloaded"`
	Status          string   `json:"status"`
}

// NewCheckSuccess reports an authenticated session. folders is the full
// list; only the first FolderSampleSize names are included.
func NewCheckSuccess(account string, folders []model.Folder) CheckSuccess {
	sample := make([]string, 0, min(len(folders), FolderSampleSize))
	for _, f := range folders[:min(len(folders), FolderSampleSize)] {
		sample = append(sample, f.Name)
	}
	return CheckSuccess{
		Status:       StatusSuccess,
		Message:      MessageAuthenticated,
		Account:      account,
		FolderCount:  len(folders),
		FolderSample: sample,
	}
}

// NewCheckError flattens a connectivity failure. Missing credentials get
// the fixed credentials message and no hint.
func NewCheckError(err error) Error {
	if errors.Is(err, model.ErrCredentialsMissing) {
		return Error{Status: StatusError, Message: MessageCredentialsMissing}
	}
	return Error{Status: StatusError, Message: err.Error(), Hint: HintAppPassword}
}

// NewFetchComplete renders the processed-entry log.
func NewFetchComplete(entries []model.Entry) FetchComplete {
	details := make([]Detail, 0, len(entries))
	for _, e := range entries {
		files := e.Files
		if files == nil {
			files = []string{}
		}
		details = append(details, Detail{
			EmailSubject:    e.Subject,
			Sender:          e.Sender,
			Date:            e.Date,
			FilesDownloaded: files,
			Status:          e.Status,
		})
	}
	return FetchComplete{
		Status:          StatusComplete,
		EmailsProcessed: len(details),
		Details:         details,
	}
}

// NewFetchError flattens a fetch failure to its message.
func NewFetchError(err error) Error {
	if errors.Is(err, model.ErrCredentialsMissing) {
		return Error{Status: StatusError, Message: MessageCredentialsMissing}
	}
	return Error{Status: StatusError, Message: err.Error()}
}

// Write encodes v as indented JSON followed by a newline.
func Write(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
