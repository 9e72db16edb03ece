package repository

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	memoryPath            = ":memory:"
	defaultSQLitePath     = "./kestrel.db"
	defaultJournalMode    = "WAL"
	defaultBusyTimeout    = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultSSLMode        = "disable"
)

var journalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}

// lib/pq accepts these sslmode values.
var sslModes = []string{"disable", "require", "verify-ca", "verify-full"}

// dsn returns the database/sql driver name and data source for cfg.
func dsn(cfg domain.RepositoryConfig) (string, string, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqliteDSN(cfg)
		return "sqlite", s, err
	case "postgres":
		s, err := postgresDSN(cfg)
		return "postgres", s, err
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// sqliteDSN builds a modernc.org/sqlite URI with the configured pragmas,
// creating the parent directory of a file database.
func sqliteDSN(cfg domain.RepositoryConfig) (string, error) {
	path := cmp.Or(cfg.SQLitePath, defaultSQLitePath)

	mode := strings.ToUpper(cmp.Or(cfg.SQLiteJournalMode, defaultJournalMode))
	if !slices.Contains(journalModes, mode) {
		return "", domain.NewConfigurationError("sqlite_journal_mode", "unsupported mode %q", cfg.SQLiteJournalMode)
	}
	busy := cfg.SQLiteBusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	if path == memoryPath {
		// WAL needs a file; an in-memory database keeps its journal in memory.
		mode = "MEMORY"
	} else if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode("+mode+")")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	q.Add("_pragma", "foreign_keys(ON)")

	return "file:" + path + "?" + q.Encode(), nil
}

// postgresDSN builds a postgres:// URL so credentials are escaped.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	mode := cmp.Or(cfg.PostgresSSLMode, defaultSSLMode)
	if !slices.Contains(sslModes, mode) {
		return "", domain.NewConfigurationError("postgres_sslmode", "unsupported mode %q", cfg.PostgresSSLMode)
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cmp.Or(cfg.PostgresHost, "localhost"), strconv.Itoa(port)),
		Path:   "/" + cmp.Or(cfg.PostgresDB, "kestrel"),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	u.RawQuery = url.Values{
		"sslmode":          {mode},
		"application_name": {"kestrel"},
		"connect_timeout":  {strconv.Itoa(max(int(timeout.Seconds()), 1))},
	}.Encode()

	return u.String(), nil
}

// open connects, sizes the pool and verifies the connection.
func open(cfg domain.RepositoryConfig) (*sql.DB, error) {
	driver, source, err := dsn(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" && cfg.SQLitePath == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}
