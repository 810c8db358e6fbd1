package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrymomot/devidkit/pkg/config"
)

// PostgresConfig holds configuration for the Postgres-backed store.
type PostgresConfig struct {
	ConnectionString  string        `env:"VAULT_PG_CONN_URL,required"`                   // ConnectionString is the postgres connection string.
	MaxOpenConns      int32         `env:"VAULT_PG_MAX_OPEN_CONNS" envDefault:"10"`      // MaxOpenConns is the maximum number of open connections.
	MaxIdleConns      int32         `env:"VAULT_PG_MAX_IDLE_CONNS" envDefault:"5"`       // MaxIdleConns is the minimum number of idle connections kept.
	HealthCheckPeriod time.Duration `env:"VAULT_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`  // HealthCheckPeriod is the period between pool health checks.
	MaxConnIdleTime   time.Duration `env:"VAULT_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"` // MaxConnIdleTime is how long a connection may sit idle.
	MaxConnLifetime   time.Duration `env:"VAULT_PG_MAX_CONN_LIFETIME" envDefault:"30m"`  // MaxConnLifetime is how long a connection may be reused.

	RetryAttempts int           `env:"VAULT_PG_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of connection attempts.
	RetryInterval time.Duration `env:"VAULT_PG_RETRY_INTERVAL" envDefault:"5s"` // RetryInterval is the wait between attempts.

	MigrationsPath  string `env:"VAULT_PG_MIGRATIONS_PATH" envDefault:"migrations/postgres"` // MigrationsPath is the path to the migrations directory.
	MigrationsTable string `env:"VAULT_PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"`  // MigrationsTable stores the applied migration versions.
}

// ConnectPostgres establishes a PostgreSQL connection pool with retry
// logic. Exponential backoff avoids hammering the database when several
// hosts restart at once.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	connConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	connConfig.MaxConns = cfg.MaxOpenConns
	connConfig.MinConns = cfg.MaxIdleConns
	connConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	connConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	connConfig.MaxConnLifetime = cfg.MaxConnLifetime

	for i := range cfg.RetryAttempts {
		pool, err := pgxpool.NewWithConfig(ctx, connConfig)
		if err != nil {
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}

		return pool, nil
	}

	return nil, ErrFailedToOpenDBConnection
}

// MigratePostgres applies the credential schema migrations using goose.
// goose only speaks database/sql, so the pgx pool is bridged through stdlib.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, cfg PostgresConfig, log *slog.Logger) error {
	if cfg.MigrationsPath == "" {
		return errors.Join(ErrFailedToApplyMigrations, ErrMigrationPathNotProvided)
	}

	if _, err := os.Stat(cfg.MigrationsPath); err != nil {
		if os.IsNotExist(err) {
			return errors.Join(ErrMigrationsDirNotFound, err)
		}
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration db handle", slog.Any("error", err))
		}
	}(db)

	goose.SetTableName(cfg.MigrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	if err := goose.UpContext(ctx, db, cfg.MigrationsPath); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	return nil
}

// NewPostgresStoreFromEnv connects to Postgres using
// environment-provided configuration, applies the credential schema
// migrations, and returns a store on top of the pool.
func NewPostgresStoreFromEnv(ctx context.Context, log *slog.Logger) (*PostgresStore, error) {
	var cfg PostgresConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	pool, err := ConnectPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := MigratePostgres(ctx, pool, cfg, log); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

// PostgresStore persists credentials in a single table, one row per login
// identifier. Suitable for server hosts with an existing database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on top of an established pgx pool.
// The schema is expected to be in place; see MigratePostgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT login_id FROM identity_credentials ORDER BY login_id`)
	if err != nil {
		return nil, errors.Join(ErrVaultUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Join(ErrVaultUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrVaultUnavailable, err)
	}
	return ids, nil
}

func (s *PostgresStore) Get(ctx context.Context, loginID string) (Credential, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT credential FROM identity_credentials WHERE login_id = $1`,
		normalizeLoginID(loginID),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, errors.Join(ErrVaultUnavailable, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, errors.Join(ErrVaultUnavailable, err)
	}
	return cred, nil
}

func (s *PostgresStore) Save(ctx context.Context, loginID string, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO identity_credentials (login_id, credential, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (login_id) DO UPDATE
		SET credential = EXCLUDED.credential, updated_at = now()`,
		normalizeLoginID(loginID), data,
	)
	if err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, loginID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM identity_credentials WHERE login_id = $1`,
		normalizeLoginID(loginID),
	)
	if err != nil {
		return errors.Join(ErrVaultUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
