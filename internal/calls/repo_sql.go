package calls

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"callpilot/pkg/utils"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Dialect selects SQL flavor differences between Postgres and SQLite.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore persists calls in a relational table.
//
// NOTE: the schema lives in migrations/<dialect>; run Migrate before first use.
// Writes are read-check-write inside one transaction. On Postgres the row is
// locked with SELECT ... FOR UPDATE; on SQLite the pool is a single connection
// so transactions are serialized.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	clock   func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("calls: db is nil")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("calls: unsupported dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect, clock: time.Now}, nil
}

// Migrate applies the embedded schema migrations for the dialect.
func Migrate(db *sql.DB, dialect Dialect) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("calls: migrations for %s: %w", dialect, err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("calls: migration source: %w", err)
	}
	defer src.Close()

	var m *migrate.Migrate
	switch dialect {
	case DialectPostgres:
		drv, err := migratepgx.WithInstance(db, &migratepgx.Config{})
		if err != nil {
			return fmt.Errorf("calls: migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", drv)
		if err != nil {
			return fmt.Errorf("calls: migrator: %w", err)
		}
	case DialectSQLite:
		drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("calls: migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("calls: migrator: %w", err)
		}
	default:
		return fmt.Errorf("calls: unsupported dialect %q", dialect)
	}
	// m.Close would also close db; the caller owns it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("calls: migrate up: %w", err)
	}
	return nil
}

const callColumns = `id, phone_number, caller_name, caller_phone, account_action, additional_info,
provider_call_id, status, created_at, updated_at, completed_at, duration_seconds,
transcript, success, error_message, metadata`

func (s *SQLStore) Save(ctx context.Context, c Call) error {
	if c.ID == "" {
		return errors.New("calls: id required")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	q := s.rebind(`
INSERT INTO calls (` + callColumns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`)
	_, err = s.db.ExecContext(ctx, q,
		c.ID,
		c.Request.PhoneNumber,
		c.Request.CallerName,
		c.Request.CallerPhone,
		c.Request.AccountAction,
		c.Request.AdditionalInfo,
		c.ProviderCallID,
		string(c.Status),
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
		nullTime(c.CompletedAt),
		nullInt(c.DurationSeconds),
		nullString(c.Transcript),
		nullBool(c.Success),
		nullString(c.ErrorMessage),
		meta,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return storageErr("save", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, id string, p Patch) (Call, error) {
	var out Call
	var conflict bool

	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := s.getTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		out = cur
		if !p.allows(cur.Status) {
			conflict = true
			return nil
		}
		if p.IsEmpty() {
			return nil
		}
		next := p.apply(cur, s.clock())
		meta, err := encodeMetadata(next.Metadata)
		if err != nil {
			return err
		}
		q := s.rebind(`
UPDATE calls SET
  provider_call_id = ?, status = ?, updated_at = ?, completed_at = ?,
  duration_seconds = ?, transcript = ?, success = ?, error_message = ?, metadata = ?
WHERE id = ?
`)
		if _, err := tx.ExecContext(ctx, q,
			next.ProviderCallID,
			string(next.Status),
			next.UpdatedAt.UTC(),
			nullTime(next.CompletedAt),
			nullInt(next.DurationSeconds),
			nullString(next.Transcript),
			nullBool(next.Success),
			nullString(next.ErrorMessage),
			meta,
			id,
		); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Call{}, ErrNotFound
		}
		return Call{}, storageErr("update", err)
	}
	if conflict {
		return out, ErrStatusConflict
	}
	return out, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Call, error) {
	q := s.rebind(`SELECT ` + callColumns + ` FROM calls WHERE id = ?`)
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, storageErr("get", err)
	}
	return c, nil
}

func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]Call, error) {
	f = f.withDefaults()
	var (
		where string
		args  []any
	)
	if f.Status != "" {
		where = "WHERE status = ?"
		args = append(args, string(f.Status))
	}
	args = append(args, f.Limit, f.Offset)
	q := s.rebind(`SELECT ` + callColumns + ` FROM calls ` + where + `
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`)
	return s.query(ctx, "list", q, args...)
}

func (s *SQLStore) ListStale(ctx context.Context, cutoff time.Time, statuses []Status) ([]Call, error) {
	if len(statuses) == 0 {
		return []Call{}, nil
	}
	args := make([]any, 0, len(statuses)+1)
	marks := make([]string, 0, len(statuses))
	for _, st := range statuses {
		marks = append(marks, "?")
		args = append(args, string(st))
	}
	args = append(args, cutoff.UTC())
	q := s.rebind(`SELECT ` + callColumns + ` FROM calls
WHERE status IN (` + strings.Join(marks, ",") + `) AND created_at < ?
ORDER BY created_at DESC, id DESC`)
	return s.query(ctx, "list stale", q, args...)
}

func (s *SQLStore) query(ctx context.Context, op, q string, args ...any) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

func (s *SQLStore) getTx(ctx context.Context, tx *sql.Tx, id string, lock bool) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = ?`
	if lock && s.dialect == DialectPostgres {
		q += ` FOR UPDATE`
	}
	c, err := scanCall(tx.QueryRowContext(ctx, s.rebind(q), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

// rebind rewrites '?' placeholders to $N for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c          Call
		status     string
		completed  sql.NullTime
		duration   sql.NullInt64
		transcript sql.NullString
		success    sql.NullBool
		errMsg     sql.NullString
		meta       sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.Request.PhoneNumber,
		&c.Request.CallerName,
		&c.Request.CallerPhone,
		&c.Request.AccountAction,
		&c.Request.AdditionalInfo,
		&c.ProviderCallID,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
		&completed,
		&duration,
		&transcript,
		&success,
		&errMsg,
		&meta,
	); err != nil {
		return Call{}, err
	}
	c.Status = Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		c.CompletedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if transcript.Valid {
		c.Transcript = &transcript.String
	}
	if success.Valid {
		c.Success = &success.Bool
	}
	if errMsg.Valid {
		c.ErrorMessage = &errMsg.String
	}
	if meta.Valid && meta.String != "" {
		m := map[string]any{}
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return Call{}, fmt.Errorf("decode metadata: %w", err)
		}
		if len(m) > 0 {
			c.Metadata = m
		}
	}
	return c, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("calls: encode metadata: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
