// Package check proves that a mailbox account can authenticate and list its
// folders.
package check

import (
	"context"
	"log/slog"

	"github.com/dhcgn/invoice-fetcher/apperr"
	"github.com/dhcgn/invoice-fetcher/imap"
	"github.com/dhcgn/invoice-fetcher/model"
)

// Result is the outcome of a successful check.
type Result struct {
	Account string
	Folders []model.Folder
}

// Run validates creds, opens one session and lists its folders. Missing
// credentials fail with a config error before the dialer is touched. The
// session is closed on every path.
func Run(ctx context.Context, dialer imap.Dialer, creds model.Credentials, logger *slog.Logger) (Result, error) {
	if err := creds.Validate(); err != nil {
		return Result{}, apperr.Config("load credentials", err)
	}

	session, err := dialer.Dial(ctx, creds)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := session.Close(); err != nil && logger != nil {
			logger.Warn("close session", "err", err)
		}
	}()

	folders, err := session.ListFolders(ctx)
	if err != nil {
		return Result{}, err
	}

	if logger != nil {
		logger.Info("connectivity check passed", "account", creds.Address, "folders", len(folders))
	}
	return Result{Account: creds.Address, Folders: folders}, nil
}
