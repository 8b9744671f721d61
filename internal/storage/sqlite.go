package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "courier/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- messages ----

func (s *sqliteStore) InsertMessage(ctx context.Context, m Message, idempotencyKey string) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	created := m.CreatedAt.Format(time.RFC3339Nano)

	if idempotencyKey == "" {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO messages(sender, recipient, subject, body, idempotency_key, created_at)
			 VALUES(?,?,?,?,NULL,?)`,
			m.Sender, m.Recipient, m.Subject, m.Body, created,
		)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	// The partial unique index on idempotency_key makes the
	// check-then-insert atomic: two racing inserts with the same key
	// resolve to a single row, and the loser reads the winner's id.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(sender, recipient, subject, body, idempotency_key, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
		m.Sender, m.Recipient, m.Subject, m.Body, idempotencyKey, created,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return res.LastInsertId()
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE idempotency_key = ?`, idempotencyKey,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *sqliteStore) MessageByID(ctx context.Context, id int64) (Message, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, sender, recipient, subject, body, idempotency_key, created_at
		 FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

func (s *sqliteStore) Messages(ctx context.Context, f MessageFilter) ([]Message, error) {
	q := `SELECT id, sender, recipient, subject, body, idempotency_key, created_at FROM messages`
	args := make([]any, 0, 3)
	if f.Recipient != "" {
		q += ` WHERE recipient = ?`
		args = append(args, f.Recipient)
	}
	q += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Take, f.Skip)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var (
		m       Message
		key     sql.NullString
		created string
	)
	if err := r.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Subject, &m.Body, &key, &created); err != nil {
		return Message{}, err
	}
	m.IdempotencyKey = key.String
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		m.CreatedAt = t
	}
	return m, nil
}

// ---- contacts ----

func (s *sqliteStore) CreateContact(ctx context.Context, c Contact) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(name, email, age, created_at) VALUES(?,?,?,?)`,
		c.Name, c.Email, c.Age, c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ContactByID(ctx context.Context, id int64) (Contact, bool, error) {
	var (
		c       Contact
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, age, created_at FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Age, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		c.CreatedAt = t
	}
	return c, true, nil
}

func (s *sqliteStore) Contacts(ctx context.Context, age *int) ([]Contact, error) {
	q := `SELECT id, name, email, age, created_at FROM contacts`
	args := []any{}
	if age != nil {
		q += ` WHERE age = ?`
		args = append(args, *age)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		var (
			c       Contact
			created string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Age, &created); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteContact(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	return err
}

// ---- delivery queue ----

func (s *sqliteStore) EnqueueDelivery(ctx context.Context, payload []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(payload, enqueued_at) VALUES(?,?)`,
		string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) LeaseDeliveries(ctx context.Context, limit int, lease time.Duration) ([]QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UnixMilli()
	until := now + lease.Milliseconds()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, attempts, not_before, enqueued_at FROM deliveries
		 WHERE dead = 0 AND leased_until <= ? AND not_before <= ?
		 ORDER BY id LIMIT ?`,
		now, now, limit,
	)
	if err != nil {
		return nil, err
	}
	candidates := make([]QueueEntry, 0, limit)
	func() {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var (
				e         QueueEntry
				payload   string
				notBefore int64
				enqueued  string
			)
			if err = rows.Scan(&e.ID, &payload, &e.Attempts, &notBefore, &enqueued); err != nil {
				return
			}
			e.Payload = []byte(payload)
			e.NotBefore = time.UnixMilli(notBefore)
			if t, perr := time.Parse(time.RFC3339Nano, enqueued); perr == nil {
				e.EnqueuedAt = t
			}
			candidates = append(candidates, e)
		}
		if err == nil {
			err = rows.Err()
		}
	}()
	if err != nil {
		return nil, err
	}

	// Claim each candidate with a guarded update so a concurrent leaser
	// never gets the same entry.
	out := make([]QueueEntry, 0, len(candidates))
	for _, e := range candidates {
		res, uerr := s.db.ExecContext(ctx,
			`UPDATE deliveries SET leased_until = ?, attempts = attempts + 1
			 WHERE id = ? AND dead = 0 AND leased_until <= ?`,
			until, e.ID, now,
		)
		if uerr != nil {
			return out, uerr
		}
		if n, _ := res.RowsAffected(); n == 1 {
			e.Attempts++
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *sqliteStore) CompleteDelivery(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ReleaseDelivery(ctx context.Context, id int64, retryIn time.Duration) error {
	notBefore := time.Now().Add(retryIn).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET leased_until = 0, not_before = ? WHERE id = ?`,
		notBefore, id,
	)
	return err
}

func (s *sqliteStore) MarkDeliveryDead(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET dead = 1, dead_at = ?, leased_until = 0 WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	return err
}

func (s *sqliteStore) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET leased_until = 0 WHERE dead = 0 AND leased_until > 0 AND leased_until <= ?`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PruneDeadDeliveries(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE dead = 1 AND dead_at <= ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- admin ----

func (s *sqliteStore) Reset(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM messages`,
		`DELETE FROM contacts`,
		`DELETE FROM deliveries`,
		`DELETE FROM sqlite_sequence WHERE name IN ('messages','contacts','deliveries')`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
