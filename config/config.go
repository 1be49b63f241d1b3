package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/invoice-fetcher/model"
)

const (
	DefaultHost        = "imap.gmail.com"
	DefaultPort        = 993
	DefaultMailbox     = "INBOX"
	DefaultSubject     = "Invoice"
	DefaultDownloadDir = "downloads"
	DefaultEnvFile     = ".env"
)

// Config captures every option resolved from flags, the process environment
// and the optional .env file.
type Config struct {
	Address            string
	Password           string
	IMAPHost           string
	IMAPPort           int
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	Subject            string
	DownloadDir        string
	ExcludeAttachment  []string
	DryRun             bool
	LogLevel           string
	LogDir             string
	EnvFile            string
}

// Credentials returns the login identity. It may be incomplete; callers
// validate it before dialing.
func (c Config) Credentials() model.Credentials {
	return model.Credentials{Address: c.Address, Password: c.Password}
}

// viper keys double as environment variable names once upper-cased.
var flagKeys = map[string]string{
	"imap-host":            "imap_host",
	"imap-port":            "imap_port",
	"use-tls":              "use_tls",
	"insecure-skip-verify": "insecure_skip_verify",
	"mailbox":              "mailbox",
	"subject":              "subject_filter",
	"download-dir":         "download_dir",
	"dry-run":              "dry_run",
	"log-level":            "log_level",
	"log-dir":              "log_dir",
}

// RegisterFlags attaches the shared CLI flags to the provided command. They
// are persistent so every subcommand inherits them.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("env-file", DefaultEnvFile, "Path to a .env file with EMAIL_ADDRESS and EMAIL_PASSWORD (ignored if absent)")
	flags.String("imap-host", DefaultHost, "IMAP server hostname (env IMAP_HOST)")
	flags.Int("imap-port", DefaultPort, "IMAP server port (env IMAP_PORT)")
	flags.Bool("use-tls", true, "Use implicit TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", DefaultMailbox, "Mailbox searched for invoices (env MAILBOX)")
	flags.String("subject", DefaultSubject, "Subject substring matched server-side (env SUBJECT_FILTER)")
	flags.String("download-dir", DefaultDownloadDir, "Directory receiving PDF attachments (env DOWNLOAD_DIR)")
	flags.StringArray("exclude-attachment", nil, "Regex block-list applied to PDF attachment filenames")
	flags.Bool("dry-run", false, "Search without marking messages seen or writing files")
	flags.String("log-level", "warn", "Logging level on stderr: debug, info, warn, error (env LOG_LEVEL)")
	flags.String("log-dir", "", "Optional directory receiving a copy of the log")
	return nil
}

// LoadConfig resolves the parsed Cobra flags, the environment and the .env
// file into a Config. Precedence: explicit flag, environment, .env, default.
// Missing credentials are not an error here.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	envFile, err := flags.GetString("env-file")
	if err != nil {
		return Config{}, err
	}
	excludeAttachment, err := flags.GetStringArray("exclude-attachment")
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.AutomaticEnv()
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			return Config{}, fmt.Errorf("flag --%s is not registered", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	if err := readEnvFile(v, envFile); err != nil {
		return Config{}, err
	}

	logLevel := strings.ToLower(v.GetString("log_level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	downloadDir := v.GetString("download_dir")
	if downloadDir != "" {
		downloadDir = filepath.Clean(downloadDir)
	}

	cfg := Config{
		Address:            strings.TrimSpace(credential(v, "email_address")),
		Password:           credential(v, "email_password"),
		IMAPHost:           v.GetString("imap_host"),
		IMAPPort:           v.GetInt("imap_port"),
		UseTLS:             v.GetBool("use_tls"),
		InsecureSkipVerify: v.GetBool("insecure_skip_verify"),
		Mailbox:            v.GetString("mailbox"),
		Subject:            v.GetString("subject_filter"),
		DownloadDir:        downloadDir,
		ExcludeAttachment:  excludeAttachment,
		DryRun:             v.GetBool("dry_run"),
		LogLevel:           logLevel,
		LogDir:             v.GetString("log_dir"),
		EnvFile:            envFile,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// credential reads a credential key. A variable present in the process
// environment wins over the .env file even when it is empty.
func credential(v *viper.Viper, key string) string {
	if value, ok := os.LookupEnv(strings.ToUpper(key)); ok {
		return value
	}
	return v.GetString(key)
}

func readEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host must not be empty")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.Mailbox == "" {
		return fmt.Errorf("--mailbox must not be empty")
	}
	if cfg.Subject == "" {
		return fmt.Errorf("--subject must not be empty")
	}
	if cfg.DownloadDir == "" {
		return fmt.Errorf("--download-dir must not be empty")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
