package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration.
type Config struct {
	DBPath     string
	Addr       string
	AdminEmail string
	LogPath    string

	GeminiAPIKey string
	GeminiModel  string

	UploadDir       string
	ScanConcurrency int64
	ScanTimeout     time.Duration

	SweepInterval time.Duration
}

// Defaults.
const (
	DefaultDBPath          = "healthsync.sqlite3"
	DefaultAddr            = ":8080"
	DefaultAdminEmail      = "admin@healthsync.local"
	DefaultScanConcurrency = 4
	DefaultScanTimeout     = 30 * time.Second
	DefaultSweepInterval   = time.Hour
)

const usage = `Usage: healthsync [flags]

Flags:
  -d, -db <path>             SQLite database path (env HEALTHSYNC_DB, default: healthsync.sqlite3)
  -a, -addr <host:port>      listen address (env HEALTHSYNC_ADDR, default: :8080)
  -e, -admin-email <email>   admin email on first run (env HEALTHSYNC_ADMIN_EMAIL)
  -l, -log <path>            log file path (env HEALTHSYNC_LOG, default: stdout/stderr only)
  -upload-dir <path>         temporary scan uploads (env HEALTHSYNC_UPLOAD_DIR, default: OS temp dir)
  -scan-concurrency <n>      concurrent vision model calls (env HEALTHSYNC_SCAN_CONCURRENCY, default: 4)
  -scan-timeout <duration>   timeout per model call (env HEALTHSYNC_SCAN_TIMEOUT, default: 30s)
  -gemini-model <name>       vision model (env GEMINI_MODEL, default: gemini-2.5-flash)
  -h, -help                  show this help and exit

The Gemini API key is read from GEMINI_API_KEY. Variables may also be set in
a .env file in the working directory; real environment variables win.
`

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load parses args with defaults taken from getenv. It returns flag.ErrHelp
// when help was requested.
func Load(args []string, getenv func(string) string, out io.Writer) (*Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	concurrency, err := strconv.ParseInt(env("HEALTHSYNC_SCAN_CONCURRENCY", strconv.Itoa(DefaultScanConcurrency)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("HEALTHSYNC_SCAN_CONCURRENCY: %w", err)
	}
	timeout, err := time.ParseDuration(env("HEALTHSYNC_SCAN_TIMEOUT", DefaultScanTimeout.String()))
	if err != nil {
		return nil, fmt.Errorf("HEALTHSYNC_SCAN_TIMEOUT: %w", err)
	}

	cfg := &Config{
		GeminiAPIKey:  getenv("GEMINI_API_KEY"),
		SweepInterval: DefaultSweepInterval,
	}

	fset := flag.NewFlagSet("healthsync", flag.ContinueOnError)
	fset.SetOutput(out)
	fset.Usage = func() { fmt.Fprint(out, usage) }

	dbPath := env("HEALTHSYNC_DB", DefaultDBPath)
	fset.StringVar(&cfg.DBPath, "db", dbPath, "")
	fset.StringVar(&cfg.DBPath, "d", dbPath, "")

	addr := env("HEALTHSYNC_ADDR", DefaultAddr)
	fset.StringVar(&cfg.Addr, "addr", addr, "")
	fset.StringVar(&cfg.Addr, "a", addr, "")

	adminEmail := env("HEALTHSYNC_ADMIN_EMAIL", DefaultAdminEmail)
	fset.StringVar(&cfg.AdminEmail, "admin-email", adminEmail, "")
	fset.StringVar(&cfg.AdminEmail, "e", adminEmail, "")

	logPath := env("HEALTHSYNC_LOG", "")
	fset.StringVar(&cfg.LogPath, "log", logPath, "")
	fset.StringVar(&cfg.LogPath, "l", logPath, "")

	fset.StringVar(&cfg.UploadDir, "upload-dir", env("HEALTHSYNC_UPLOAD_DIR", os.TempDir()), "")
	fset.Int64Var(&cfg.ScanConcurrency, "scan-concurrency", concurrency, "")
	fset.DurationVar(&cfg.ScanTimeout, "scan-timeout", timeout, "")
	fset.StringVar(&cfg.GeminiModel, "gemini-model", env("GEMINI_MODEL", ""), "")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		fset.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", fset.Arg(0))
	}
	if cfg.ScanConcurrency < 1 {
		return nil, errors.New("scan concurrency must be at least 1")
	}
	if cfg.ScanTimeout <= 0 {
		return nil, errors.New("scan timeout must be positive")
	}

	return cfg, nil
}
