package check

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dhcgn/invoice-fetcher/apperr"
	"github.com/dhcgn/invoice-fetcher/imap/imaptest"
	"github.com/dhcgn/invoice-fetcher/model"
	"github.com/dhcgn/invoice-fetcher/report"
)

var creds = model.Credentials{Address: "billing@example.com", Password: "app-password"}

func TestRun_MissingCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds model.Credentials
	}{
		{name: "both empty", creds: model.Credentials{}},
		{name: "no password", creds: model.Credentials{Address: "billing@example.com"}},
		{name: "no address", creds: model.Credentials{Password: "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &imaptest.Dialer{}
			_, err := Run(context.Background(), dialer, tt.creds, nil)
			if !apperr.Is(err, apperr.KindConfig) {
				t.Fatalf("Run() error = %v, want config error", err)
			}
			if dialer.Dials() != 0 {
				t.Errorf("Dials() = %d, want 0", dialer.Dials())
			}
			want := report.Error{Status: "error", Message: "Credentials missing. Check .env file."}
			if diff := cmp.Diff(want, report.NewCheckError(err)); diff != "" {
				t.Errorf("NewCheckError() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_ListsFolders(t *testing.T) {
	dialer := &imaptest.Dialer{Folders: []model.Folder{
		{Name: "INBOX"}, {Name: "Sent"}, {Name: "Trash"}, {Name: "Work"}, {Name: "Archive"}, {Name: "Old"},
	}}

	result, err := Run(context.Background(), dialer, creds, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := report.NewCheckSuccess(result.Account, result.Folders)
	if got.FolderCount != 6 {
		t.Errorf("FolderCount = %d, want 6", got.FolderCount)
	}
	if len(got.FolderSample) != 5 {
		t.Errorf("len(FolderSample) = %d, want 5", len(got.FolderSample))
	}
	if got.Account != creds.Address {
		t.Errorf("Account = %q, want %q", got.Account, creds.Address)
	}
	if dialer.Closes() != 1 {
		t.Errorf("Closes() = %d, want 1", dialer.Closes())
	}
}

func TestRun_LoginFails(t *testing.T) {
	dialer := &imaptest.Dialer{DialErr: apperr.Connection("", errors.New("imap login failed: NO Invalid credentials"))}

	_, err := Run(context.Background(), dialer, creds, nil)
	if err == nil {
		t.Fatal("Run() error = nil, want login failure")
	}

	got := report.NewCheckError(err)
	if got.Status != "error" {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.Hint == "" {
		t.Error("Hint is empty, want remediation hint")
	}
	if got.Message != "imap login failed: NO Invalid credentials" {
		t.Errorf("Message = %q", got.Message)
	}
}

func TestRun_ListFailsClosesSession(t *testing.T) {
	dialer := &imaptest.Dialer{ListErr: errors.New("connection reset")}

	if _, err := Run(context.Background(), dialer, creds, nil); err == nil {
		t.Fatal("Run() error = nil, want list failure")
	}
	if dialer.Closes() != 1 {
		t.Errorf("Closes() = %d, want 1", dialer.Closes())
	}
}
