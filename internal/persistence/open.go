package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"lloydsdigest/internal/store"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrConfig is returned for unusable storage configuration.
var ErrConfig = errors.New("storage configuration error")

// Options selects and configures a storage backend.
type Options struct {
	Backend string
	DataDir string
	DSN     string
}

// Open returns the configured backend. The postgres backend builds its DSN
// from the environment when Options.DSN is empty.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendSQLite:
		s, err := store.NewStore(opts.DataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		dsn := opts.DSN
		if dsn == "" {
			var err error
			if dsn, err = BuildDSN(os.LookupEnv); err != nil {
				return nil, err
			}
		}
		db, err := NewPostgresDB(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", ErrConfig, opts.Backend)
	}
}

var dsnVars = []struct{ env, key string }{
	{"POSTGRES_HOST", "host"},
	{"POSTGRES_PORT", "port"},
	{"POSTGRES_DB", "dbname"},
	{"POSTGRES_USER", "user"},
	{"POSTGRES_PASSWORD", "password"},
}

// BuildDSN assembles a key/value Postgres DSN from POSTGRES_* variables,
// reporting every missing one.
func BuildDSN(lookup func(string) (string, bool)) (string, error) {
	var (
		parts   []string
		missing []string
	)
	for _, v := range dsnVars {
		value, ok := lookup(v.env)
		if !ok || value == "" {
			missing = append(missing, v.env)
			continue
		}
		parts = append(parts, v.key+"="+value)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing Postgres env vars: %s", ErrConfig, strings.Join(missing, ", "))
	}
	return strings.Join(parts, " "), nil
}
