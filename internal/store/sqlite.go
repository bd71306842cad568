package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/ykvlv/digest-bot/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

var _ Repo = (*SQLiteRepo)(nil)

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer engine; one connection also keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;", // mutations must survive a crash right after return
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const userColumns = `user_id, username, first_name, summary_period, last_summary_at, created_at`

func scanUser(s scanner) (*domain.User, error) {
	var (
		u       domain.User
		period  int
		lastNS  sql.NullInt64
		created int64
	)
	if err := s.Scan(&u.ID, &u.Username, &u.FirstName, &period, &lastNS, &created); err != nil {
		return nil, err
	}
	u.Period = domain.Period(period)
	u.LastSummaryAt = unixPtr(lastNS)
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// AddUser inserts a user with the default period or refreshes the names of
// an existing one. Period and last summary time are never touched here.
func (r *SQLiteRepo) AddUser(ctx context.Context, id int64, username, firstName string) (*domain.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, first_name, summary_period, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username   = excluded.username,
			first_name = excluded.first_name`,
		id, username, firstName, int(domain.DefaultPeriod), time.Now().UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return r.GetUser(ctx, id)
}

// GetUser returns a user by id or ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetSummaryPeriod changes a user's period. Only supported periods are accepted.
func (r *SQLiteRepo) SetSummaryPeriod(ctx context.Context, userID int64, p domain.Period) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrInvalidPeriod, p)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET summary_period = ? WHERE user_id = ?`, int(p), userID)
	if err != nil {
		return fmt.Errorf("set period: %w", err)
	}
	return requireAffected(res)
}

// UsersDueForSummary returns up to limit users with now - last_summary_at >= period,
// users never summarized first. The boundary is inclusive.
func (r *SQLiteRepo) UsersDueForSummary(ctx context.Context, now time.Time, limit int) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE last_summary_at IS NULL
		   OR last_summary_at + summary_period * 86400 <= ?
		ORDER BY last_summary_at IS NOT NULL, last_summary_at ASC, user_id ASC
		LIMIT ?`,
		now.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due users: %w", err)
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// MarkSummarized records a completed delivery at the given time.
func (r *SQLiteRepo) MarkSummarized(ctx context.Context, userID int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_summary_at = ? WHERE user_id = ?`, at.UTC().Unix(), userID)
	if err != nil {
		return fmt.Errorf("mark summarized: %w", err)
	}
	return requireAffected(res)
}

const channelColumns = `id, user_id, handle, channel_id, title, added_at, last_message_at`

func scanChannel(s scanner) (*domain.Subscription, error) {
	var (
		c      domain.Subscription
		chID   sql.NullInt64
		added  int64
		lastNS sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.UserID, &c.Handle, &chID, &c.Title, &added, &lastNS); err != nil {
		return nil, err
	}
	c.ChannelID = nullIDToPtr(chID)
	c.AddedAt = time.Unix(added, 0).UTC()
	c.LastMessageAt = unixPtr(lastNS)
	return &c, nil
}

// AddChannel subscribes a user to a channel. A second call with the same
// (userID, handle) stores nothing and returns ErrDuplicateSubscription.
func (r *SQLiteRepo) AddChannel(ctx context.Context, userID int64, handle string, channelID *int64, title string) (*domain.Subscription, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (user_id, handle, channel_id, title, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, handle) DO NOTHING`,
		userID, handle, ptrToNullID(channelID), title, time.Now().UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: @%s", ErrDuplicateSubscription, handle)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE user_id = ? AND handle = ?`, userID, handle)
	return scanChannel(row)
}

// RemoveChannel deletes a subscription; ErrNotFound if the user did not track it.
func (r *SQLiteRepo) RemoveChannel(ctx context.Context, userID int64, handle string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE user_id = ? AND handle = ?`, userID, handle)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return requireAffected(res)
}

// ListChannels returns a user's subscriptions, most recently added first.
func (r *SQLiteRepo) ListChannels(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+channelColumns+`
		FROM channels
		WHERE user_id = ?
		ORDER BY added_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var res []domain.Subscription
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateChannelInfo stores the resolved id and current title of a channel.
func (r *SQLiteRepo) UpdateChannelInfo(ctx context.Context, userID int64, handle string, channelID int64, title string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE channels SET channel_id = ?, title = ?
		WHERE user_id = ? AND handle = ?`,
		channelID, title, userID, handle,
	)
	if err != nil {
		return fmt.Errorf("update channel info: %w", err)
	}
	return requireAffected(res)
}

// UpdateChannelLastMessage stores the newest message time seen in a channel.
func (r *SQLiteRepo) UpdateChannelLastMessage(ctx context.Context, userID int64, handle string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE channels SET last_message_at = ?
		WHERE user_id = ? AND handle = ?`,
		at.UTC().Unix(), userID, handle,
	)
	if err != nil {
		return fmt.Errorf("update channel last message: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
