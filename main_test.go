package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dhcgn/invoice-fetcher/config"
	"github.com/dhcgn/invoice-fetcher/imap"
	"github.com/dhcgn/invoice-fetcher/imap/imaptest"
	"github.com/dhcgn/invoice-fetcher/model"
)

// useDialer swaps the session provider for the duration of a test.
func useDialer(t *testing.T, d imap.Dialer) {
	t.Helper()
	orig := dialerFactory
	dialerFactory = func(config.Config, *slog.Logger) (imap.Dialer, error) {
		return d, nil
	}
	t.Cleanup(func() {
		dialerFactory = orig
	})
}

func execute(t *testing.T, env map[string]string, args ...string) (map[string]any, error) {
	t.Helper()
	for _, name := range []string{"EMAIL_ADDRESS", "EMAIL_PASSWORD", "DOWNLOAD_DIR", "LOG_LEVEL", "SUBJECT_FILTER", "MAILBOX"} {
		t.Setenv(name, env[name])
	}

	cmd, err := newRootCmd()
	if err != nil {
		t.Fatalf("newRootCmd() error = %v", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))

	if err := cmd.Execute(); err != nil {
		if stdout.Len() != 0 {
			t.Errorf("stdout = %q on failure, want empty", stdout.String())
		}
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("stdout is not one JSON object: %v\n%s", err, stdout.String())
	}
	return out, nil
}

var validEnv = map[string]string{
	"EMAIL_ADDRESS":  "billing@example.com",
	"EMAIL_PASSWORD": "app-password",
}

func TestConnectTest_MissingCredentials(t *testing.T) {
	dialer := &imaptest.Dialer{}
	useDialer(t, dialer)

	out, err := execute(t, nil, "connect-test")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := map[string]any{"status": "error", "message": "Credentials missing. Check .env file."}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if dialer.Dials() != 0 {
		t.Errorf("Dials() = %d, want 0", dialer.Dials())
	}
}

func TestConnectTest_Success(t *testing.T) {
	useDialer(t, &imaptest.Dialer{Folders: []model.Folder{
		{Name: "INBOX"}, {Name: "Sent"}, {Name: "Trash"}, {Name: "Work"}, {Name: "Archive"}, {Name: "Old"},
	}})

	out, err := execute(t, validEnv, "connect-test")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := map[string]any{
		"status":        "success",
		"message":       "Authentication successful.",
		"account":       "billing@example.com",
		"folder_count":  float64(6),
		"folder_sample": []any{"INBOX", "Sent", "Trash", "Work", "Archive"},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectTest_LoginError(t *testing.T) {
	useDialer(t, &imaptest.Dialer{DialErr: errors.New("imap login failed: NO")})

	out, err := execute(t, validEnv, "connect-test")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out["status"] != "error" || out["message"] != "imap login failed: NO" || out["hint"] == "" || out["hint"] == nil {
		t.Errorf("report = %v, want error with hint", out)
	}
}

func TestFetch_Complete(t *testing.T) {
	dialer := &imaptest.Dialer{}
	dialer.Add(model.Message{
		UID:         42,
		Subject:     "Invoice #42",
		Sender:      "shop@example.com",
		Attachments: []model.Attachment{{Filename: "a.pdf", Payload: []byte("%PDF")}, {Filename: "b.txt"}},
	})
	useDialer(t, dialer)

	dir := filepath.Join(t.TempDir(), "downloads")
	env := map[string]string{
		"EMAIL_ADDRESS":  validEnv["EMAIL_ADDRESS"],
		"EMAIL_PASSWORD": validEnv["EMAIL_PASSWORD"],
		"DOWNLOAD_DIR":   dir,
	}

	out, err := execute(t, env, "fetch")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := map[string]any{
		"status":           "complete",
		"emails_processed": float64(1),
		"details": []any{map[string]any{
			"email_subject":    "Invoice #42",
			"sender":           "shop@example.com",
			"date":             "",
			"files_downloaded": []any{"42_a.pdf"},
			"status":           "success",
		}},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dir, "42_a.pdf")); err != nil {
		t.Errorf("saved file missing: %v", err)
	}

	again, err := execute(t, env, "fetch")
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if again["emails_processed"] != float64(0) || len(again["details"].([]any)) != 0 {
		t.Errorf("second report = %v, want nothing processed", again)
	}
}

func TestFetch_Error(t *testing.T) {
	useDialer(t, &imaptest.Dialer{FetchErr: errors.New("search INBOX: connection reset")})

	out, err := execute(t, validEnv, "fetch", "--download-dir", t.TempDir())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := map[string]any{"status": "error", "message": "search INBOX: connection reset"}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestFetch_InvalidFlagExitsWithoutReport(t *testing.T) {
	useDialer(t, &imaptest.Dialer{})

	if _, err := execute(t, validEnv, "fetch", "--exclude-attachment", "("); err == nil {
		t.Error("Execute() error = nil, want invalid pattern error")
	}
	if _, err := execute(t, validEnv, "connect-test", "--imap-port", "0"); err == nil {
		t.Error("Execute() error = nil, want invalid port error")
	}
}
