package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skobkin/resqrelay/internal/domain"
)

var ErrMessageNotFound = errors.New("message not found")

type MessageRepo struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.Mutex
	watchers map[chan []domain.DistressMessage]struct{}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db:       db,
		now:      time.Now,
		watchers: make(map[chan []domain.DistressMessage]struct{}),
	}
}

// Save inserts the message or, when the id already exists, advances its
// status if the transition is allowed. Other fields of an existing record are
// left untouched.
func (r *MessageRepo) Save(ctx context.Context, m domain.DistressMessage) (bool, error) {
	if m.ID == "" {
		return false, fmt.Errorf("save message: empty id")
	}
	if !m.Status.Valid() {
		return false, fmt.Errorf("save message %s: invalid status %q", m.ID, m.Status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin save message tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, found, err := currentStatus(ctx, tx, m.ID)
	if err != nil {
		return false, err
	}

	updatedAt := toUnixMillis(r.now())
	changed := false
	if !found {
		var lat, lon any
		if m.Location != nil {
			lat, lon = m.Location.Latitude, m.Location.Longitude
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages(id, category, body, created_at, status, latitude, longitude, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, string(m.Category), m.Text, toUnixMillis(m.CreatedAt), string(m.Status), lat, lon, updatedAt); err != nil {
			return false, fmt.Errorf("insert message: %w", err)
		}
		changed = true
	} else if domain.ShouldTransitionMessageStatus(current, m.Status) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = ?, updated_at = ? WHERE id = ?
		`, string(m.Status), updatedAt, m.ID); err != nil {
			return false, fmt.Errorf("update message status on save: %w", err)
		}
		changed = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit save message tx: %w", err)
	}
	if changed {
		r.notify(ctx)
	}

	return !found, nil
}

// UpdateStatus applies a forward-only status change. Disallowed transitions
// are ignored without error.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update message %s: invalid status %q", id, status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update status tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, found, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update message %s: %w", id, ErrMessageNotFound)
	}
	if !domain.ShouldTransitionMessageStatus(current, status) {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), toUnixMillis(r.now()), id); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update status tx: %w", err)
	}
	r.notify(ctx)

	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (domain.DistressMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, category, body, created_at, status, latitude, longitude
		FROM messages
		WHERE id = ?
	`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DistressMessage{}, fmt.Errorf("get message %s: %w", id, ErrMessageNotFound)
	}

	return m, err
}

// ListByStatus returns messages oldest first so reconciliation replays them
// in creation order.
func (r *MessageRepo) ListByStatus(ctx context.Context, status domain.MessageStatus) ([]domain.DistressMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, body, created_at, status, latitude, longitude
		FROM messages
		WHERE status = ?
		ORDER BY created_at ASC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list messages by status: %w", err)
	}

	return collectMessages(rows)
}

func (r *MessageRepo) ListAll(ctx context.Context) ([]domain.DistressMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, body, created_at, status, latitude, longitude
		FROM messages
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return collectMessages(rows)
}

func (r *MessageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted messages: %w", err)
	}
	if n > 0 {
		r.notify(ctx)
	}

	return n, nil
}

// Watch emits the current snapshot immediately and again after every write.
// Slow readers only ever see the latest snapshot.
func (r *MessageRepo) Watch(ctx context.Context) <-chan []domain.DistressMessage {
	ch := make(chan []domain.DistressMessage, 1)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	if snapshot, err := r.ListAll(ctx); err == nil {
		ch <- snapshot
	}

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.mu.Unlock()
	}()

	return ch
}

func (r *MessageRepo) notify(ctx context.Context) {
	r.mu.Lock()
	empty := len(r.watchers) == 0
	r.mu.Unlock()
	if empty {
		return
	}

	snapshot, err := r.ListAll(ctx)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func currentStatus(ctx context.Context, tx *sql.Tx, id string) (domain.MessageStatus, bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read message status: %w", err)
	}

	return domain.MessageStatus(raw), true, nil
}

func collectMessages(rows *sql.Rows) ([]domain.DistressMessage, error) {
	defer func() {
		_ = rows.Close()
	}()

	out := make([]domain.DistressMessage, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return out, nil
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}) (domain.DistressMessage, error) {
	var (
		m         domain.DistressMessage
		category  string
		status    string
		createdMs int64
		lat, lon  sql.NullFloat64
	)
	if err := scanner.Scan(&m.ID, &category, &m.Text, &createdMs, &status, &lat, &lon); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DistressMessage{}, err
		}
		return domain.DistressMessage{}, fmt.Errorf("scan message: %w", err)
	}
	m.Category = domain.Category(category)
	m.Status = domain.MessageStatus(status)
	m.CreatedAt = fromUnixMillis(createdMs)
	if lat.Valid && lon.Valid {
		m.Location = &domain.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}

	return m, nil
}

// Timestamps are stored as unix milliseconds; zero time maps to 0 and back.
func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
