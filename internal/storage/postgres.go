package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oleksiyp/kubernetes-native-secrets/pkg/models"
)

// notifyChannel carries the namespace name of every changed metadata
// document, so other server instances can rebroadcast.
const notifyChannel = "metadata_changed"

// PostgresBackend is a Backend backed by PostgreSQL, for running the
// service outside a Kubernetes cluster. Compare-and-swap rides on a
// version column; external-change detection uses LISTEN/NOTIFY.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

func (p *PostgresBackend) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM namespaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RegisterNamespace makes a namespace eligible for secret management.
// The Kubernetes backend derives eligibility from an annotation; here it
// is an explicit registry row.
func (p *PostgresBackend) RegisterNamespace(ctx context.Context, namespace string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO namespaces (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		namespace,
	)
	return err
}

func (p *PostgresBackend) ReadValues(ctx context.Context, namespace string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM secret_values WHERE namespace = $1`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("reading values: %w", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = string(value)
	}
	return values, rows.Err()
}

func (p *PostgresBackend) WriteValues(ctx context.Context, namespace string, values map[string]string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("writing values: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM secret_values WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("clearing value bucket: %w", err)
	}
	for key, v := range values {
		_, err := tx.Exec(ctx,
			`INSERT INTO secret_values (namespace, key, value) VALUES ($1, $2, $3)`,
			namespace, key, []byte(v),
		)
		if err != nil {
			return fmt.Errorf("inserting value %s: %w", key, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) ReadMetadata(ctx context.Context, namespace string) (*models.NamespaceMetadata, string, error) {
	var raw []byte
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT document, version FROM namespace_metadata WHERE namespace = $1`,
		namespace,
	).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NewNamespaceMetadata(namespace), "", nil
		}
		return nil, "", fmt.Errorf("reading metadata: %w", err)
	}
	meta, err := decodeDocument(raw, namespace)
	if err != nil {
		return nil, "", err
	}
	return meta, strconv.FormatInt(version, 10), nil
}

func (p *PostgresBackend) WriteMetadata(ctx context.Context, namespace string, meta *models.NamespaceMetadata, expectedVersion string) error {
	raw, err := EncodeDocument(meta)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if expectedVersion == "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO namespace_metadata (namespace, document, version)
			 VALUES ($1, $2, 1)
			 ON CONFLICT (namespace) DO NOTHING`,
			namespace, raw,
		)
		if err != nil {
			return fmt.Errorf("creating metadata: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	} else {
		version, err := strconv.ParseInt(expectedVersion, 10, 64)
		if err != nil {
			return fmt.Errorf("bad version token %q: %w", expectedVersion, err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE namespace_metadata
			 SET document = $2, version = version + 1
			 WHERE namespace = $1 AND version = $3`,
			namespace, raw, version,
		)
		if err != nil {
			return fmt.Errorf("writing metadata: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, namespace); err != nil {
		return fmt.Errorf("notifying metadata change: %w", err)
	}
	return tx.Commit(ctx)
}

// WatchMetadata holds a dedicated LISTEN connection and re-reads the
// changed namespace's document on every notification.
func (p *PostgresBackend) WatchMetadata(ctx context.Context, events chan<- models.MetadataEvent) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquiring listen connection: %v", ErrUnavailable, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		return fmt.Errorf("listening on %s: %w", notifyChannel, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: waiting for notification: %v", ErrUnavailable, err)
		}
		meta, _, err := p.ReadMetadata(ctx, notification.Payload)
		if err != nil {
			continue
		}
		select {
		case events <- models.MetadataEvent{Namespace: notification.Payload, Metadata: meta}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
