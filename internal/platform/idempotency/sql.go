package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finitefield.org/usermapping/internal/platform/sqldb"
)

const (
	defaultTable      = "idempotency_records"
	defaultPurgeBatch = 100

	statePending   = "pending"
	stateCompleted = "completed"
)

// SQLOption customises the SQLStore behaviour.
type SQLOption func(*SQLStore)

// WithTable overrides the table holding publish keys.
func WithTable(name string) SQLOption {
	return func(store *SQLStore) {
		if name != "" {
			store.table = name
		}
	}
}

// SQLStore keeps publish keys in the service database. The table is created by sqldb migrations.
type SQLStore struct {
	db    *sqldb.DB
	table string
}

// NewSQLStore constructs a database-backed Store.
func NewSQLStore(db *sqldb.DB, opts ...SQLOption) *SQLStore {
	store := &SQLStore{db: db, table: defaultTable}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Claim takes ownership of key for fingerprint, or reports who already holds it.
func (s *SQLStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)

	var claim Claim
	err := s.db.RunInTx(ctx, func(ctx context.Context) error {
		existing, found, err := s.find(ctx, id)
		if err != nil {
			return err
		}
		if found && existing.live(now) {
			if existing.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			claim = Claim{Outcome: OutcomeInFlight, Entry: existing}
			if existing.Completed {
				claim.Outcome = OutcomeReplay
			}
			return nil
		}
		if found {
			if err := s.remove(ctx, id); err != nil {
				return err
			}
		}
		entry := Entry{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		if err := s.upsert(ctx, id, entry, now, false); err != nil {
			return err
		}
		claim = Claim{Outcome: OutcomeFresh, Entry: entry}
		return nil
	}, sqldb.WithWriteIsolation())
	switch {
	case err == nil:
		return claim, nil
	case errors.Is(err, ErrKeyReused):
		return Claim{}, ErrKeyReused
	case isConflict(err):
		// lost the insert race to a concurrent claim
		return Claim{Outcome: OutcomeInFlight}, nil
	default:
		return Claim{}, sqldb.WrapError("idempotency.claim", err)
	}
}

// Complete stores the reply produced for key so later claims replay it.
func (s *SQLStore) Complete(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)
	entry := Entry{
		Key:         key,
		Fingerprint: fingerprint,
		Completed:   true,
		Reply:       Reply{Status: reply.Status, Header: replayable(reply.Header), Body: append([]byte(nil), reply.Body...)},
		ExpiresAt:   now.Add(ttl),
	}

	err := s.db.RunInTx(ctx, func(ctx context.Context) error {
		existing, found, err := s.find(ctx, id)
		if err != nil {
			return err
		}
		if found && existing.Fingerprint != fingerprint {
			return ErrKeyReused
		}
		return s.upsert(ctx, id, entry, now, found)
	}, sqldb.WithWriteIsolation())
	if errors.Is(err, ErrKeyReused) {
		return ErrKeyReused
	}
	return sqldb.WrapError("idempotency.complete", err)
}

// Abandon forgets key so the caller may retry.
func (s *SQLStore) Abandon(ctx context.Context, key string) error {
	return sqldb.WrapError("idempotency.abandon", s.remove(ctx, hashKey(key)))
}

// Purge deletes up to limit expired keys, oldest first.
func (s *SQLStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeBatch
	}
	ids, err := s.expired(ctx, now.UTC(), limit)
	if err != nil {
		return 0, sqldb.WrapError("idempotency.purge", err)
	}
	for i, id := range ids {
		if err := s.remove(ctx, id); err != nil {
			return i, sqldb.WrapError("idempotency.purge", err)
		}
	}
	return len(ids), nil
}

func (s *SQLStore) expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	dialect := s.db.Dialect()
	q := dialect.Rebind(fmt.Sprintf("SELECT record_key FROM %s WHERE expires_at <= ? ORDER BY expires_at %s", s.table, dialect.Limit(limit)))
	rows, err := s.db.Querier(ctx).QueryContext(ctx, q, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) find(ctx context.Context, id string) (Entry, bool, error) {
	q := s.db.Dialect().Rebind(fmt.Sprintf(
		"SELECT fingerprint, state, status_code, headers, body, expires_at FROM %s WHERE record_key = ?", s.table))

	var (
		entry      = Entry{Key: id}
		state      string
		statusCode sql.NullInt64
		header     sql.NullString
		expiresAt  int64
	)
	err := s.db.Querier(ctx).QueryRowContext(ctx, q, id).Scan(&entry.Fingerprint, &state, &statusCode, &header, &entry.Reply.Body, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	entry.Completed = state == stateCompleted
	entry.Reply.Status = int(statusCode.Int64)
	entry.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if header.Valid && header.String != "" {
		if err := json.Unmarshal([]byte(header.String), &entry.Reply.Header); err != nil {
			return Entry{}, false, fmt.Errorf("idempotency: decode stored headers: %w", err)
		}
	}
	return entry, true, nil
}

func (s *SQLStore) upsert(ctx context.Context, id string, entry Entry, now time.Time, exists bool) error {
	state := statePending
	var status, header any
	if entry.Completed {
		state = stateCompleted
		status = entry.Reply.Status
		if len(entry.Reply.Header) > 0 {
			data, err := json.Marshal(entry.Reply.Header)
			if err != nil {
				return fmt.Errorf("idempotency: encode headers: %w", err)
			}
			header = string(data)
		}
	}
	var body []byte
	if len(entry.Reply.Body) > 0 {
		body = entry.Reply.Body
	}

	var q string
	var args []any
	if exists {
		q = fmt.Sprintf("UPDATE %s SET state = ?, status_code = ?, headers = ?, body = ?, expires_at = ?, updated_at = ? WHERE record_key = ?", s.table)
		args = []any{state, status, header, body, entry.ExpiresAt.UnixMilli(), now.UnixMilli(), id}
	} else {
		q = fmt.Sprintf("INSERT INTO %s (record_key, fingerprint, state, status_code, headers, body, expires_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", s.table)
		args = []any{id, entry.Fingerprint, state, status, header, body, entry.ExpiresAt.UnixMilli(), now.UnixMilli()}
	}
	_, err := s.db.Querier(ctx).ExecContext(ctx, s.db.Dialect().Rebind(q), args...)
	return err
}

func (s *SQLStore) remove(ctx context.Context, id string) error {
	q := s.db.Dialect().Rebind(fmt.Sprintf("DELETE FROM %s WHERE record_key = ?", s.table))
	_, err := s.db.Querier(ctx).ExecContext(ctx, q, id)
	return err
}

func isConflict(err error) bool {
	var conflict interface{ IsConflict() bool }
	return errors.As(err, &conflict) && conflict.IsConflict()
}
