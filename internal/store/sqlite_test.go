package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ykvlv/digest-bot/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func mustAddUser(t *testing.T, repo *SQLiteRepo, id int64) *domain.User {
	t.Helper()
	u, err := repo.AddUser(context.Background(), id, "user", "User")
	if err != nil {
		t.Fatalf("add user: %v", err)
	}
	return u
}

func TestAddUser_Idempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	u1, err := repo.AddUser(ctx, 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if u1.Period != domain.DefaultPeriod || u1.LastSummaryAt != nil {
		t.Fatalf("unexpected defaults: %+v", u1)
	}

	if err := repo.SetSummaryPeriod(ctx, 42, domain.PeriodWeekly); err != nil {
		t.Fatalf("set period: %v", err)
	}
	u2, err := repo.AddUser(ctx, 42, "alice2", "Alice")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if u2.Username != "alice2" {
		t.Errorf("username not refreshed: %q", u2.Username)
	}
	if u2.Period != domain.PeriodWeekly {
		t.Errorf("re-adding must keep the period, got %d", u2.Period)
	}
	if !u2.CreatedAt.Equal(u1.CreatedAt) {
		t.Errorf("created_at changed: %s vs %s", u1.CreatedAt, u2.CreatedAt)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	repo := openTestRepo(t)
	if _, err := repo.GetUser(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSetSummaryPeriod(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustAddUser(t, repo, 1)

	if err := repo.SetSummaryPeriod(ctx, 1, domain.Period(2)); !errors.Is(err, domain.ErrInvalidPeriod) {
		t.Fatalf("want ErrInvalidPeriod, got %v", err)
	}
	if err := repo.SetSummaryPeriod(ctx, 999, domain.PeriodDaily); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown user, got %v", err)
	}
	if err := repo.SetSummaryPeriod(ctx, 1, domain.PeriodThreeDays); err != nil {
		t.Fatalf("set: %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.Period != domain.PeriodThreeDays {
		t.Fatalf("want 3, got %d", u.Period)
	}
}

func TestAddChannel_Duplicate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustAddUser(t, repo, 1)

	id := int64(1001)
	sub, err := repo.AddChannel(ctx, 1, "durov", &id, "Durov's Channel")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sub.ChannelID == nil || *sub.ChannelID != id || sub.Title != "Durov's Channel" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	if _, err := repo.AddChannel(ctx, 1, "durov", &id, "Durov's Channel"); !errors.Is(err, ErrDuplicateSubscription) {
		t.Fatalf("want ErrDuplicateSubscription, got %v", err)
	}

	subs, err := repo.ListChannels(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("want exactly one row, got %d", len(subs))
	}
}

func TestAddChannel_SameHandleDifferentUsers(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustAddUser(t, repo, 1)
	mustAddUser(t, repo, 2)

	if _, err := repo.AddChannel(ctx, 1, "durov", nil, ""); err != nil {
		t.Fatalf("add for user 1: %v", err)
	}
	if _, err := repo.AddChannel(ctx, 2, "durov", nil, ""); err != nil {
		t.Fatalf("add for user 2: %v", err)
	}
}

func TestRemoveChannel(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustAddUser(t, repo, 1)

	if err := repo.RemoveChannel(ctx, 1, "durov"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := repo.AddChannel(ctx, 1, "durov", nil, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.RemoveChannel(ctx, 1, "durov"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	subs, _ := repo.ListChannels(ctx, 1)
	if len(subs) != 0 {
		t.Fatalf("want no channels, got %d", len(subs))
	}
}

func TestUpdateChannelInfoAndLastMessage(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustAddUser(t, repo, 1)
	if _, err := repo.AddChannel(ctx, 1, "vcnews", nil, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := repo.UpdateChannelInfo(ctx, 1, "vcnews", 77, "VC News"); err != nil {
		t.Fatalf("update info: %v", err)
	}
	at := time.Date(2025, 5, 5, 10, 0, 0, 0, time.UTC)
	if err := repo.UpdateChannelLastMessage(ctx, 1, "vcnews", at); err != nil {
		t.Fatalf("update last: %v", err)
	}
	if err := repo.UpdateChannelInfo(ctx, 1, "missing", 1, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	subs, _ := repo.ListChannels(ctx, 1)
	if len(subs) != 1 {
		t.Fatalf("want 1 channel, got %d", len(subs))
	}
	got := subs[0]
	if got.ChannelID == nil || *got.ChannelID != 77 || got.Title != "VC News" {
		t.Errorf("info not stored: %+v", got)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(at) {
		t.Errorf("last message not stored: %v", got.LastMessageAt)
	}
}

func dueIDs(t *testing.T, repo *SQLiteRepo, now time.Time) map[int64]bool {
	t.Helper()
	users, err := repo.UsersDueForSummary(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	ids := make(map[int64]bool, len(users))
	for _, u := range users {
		ids[u.ID] = true
	}
	return ids
}

func TestUsersDueForSummary_NeverSummarized(t *testing.T) {
	repo := openTestRepo(t)
	mustAddUser(t, repo, 1)

	for _, now := range []time.Time{time.Unix(0, 0), time.Now(), time.Now().Add(-365 * 24 * time.Hour)} {
		if !dueIDs(t, repo, now)[1] {
			t.Fatalf("never-summarized user must be due at %s", now)
		}
	}
}

func TestUsersDueForSummary_Boundary(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	last := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)

	for i, p := range domain.Periods {
		id := int64(i + 1)
		mustAddUser(t, repo, id)
		if err := repo.SetSummaryPeriod(ctx, id, p); err != nil {
			t.Fatalf("set period: %v", err)
		}
		if err := repo.MarkSummarized(ctx, id, last); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	for i, p := range domain.Periods {
		id := int64(i + 1)
		boundary := last.Add(p.Duration())
		if !dueIDs(t, repo, boundary)[id] {
			t.Errorf("period %d: want due at last+period", p)
		}
		if dueIDs(t, repo, boundary.Add(-time.Second))[id] {
			t.Errorf("period %d: want not due one second before last+period", p)
		}
	}
}

func TestUsersDueForSummary_OrderAndLimit(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

	mustAddUser(t, repo, 1)
	mustAddUser(t, repo, 2)
	mustAddUser(t, repo, 3)
	_ = repo.MarkSummarized(ctx, 1, now.Add(-30*time.Hour))
	_ = repo.MarkSummarized(ctx, 2, now.Add(-50*time.Hour))

	users, err := repo.UsersDueForSummary(ctx, now, 2)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("want 2 users, got %d", len(users))
	}
	if users[0].ID != 3 || users[1].ID != 2 {
		t.Fatalf("want [3 2], got [%d %d]", users[0].ID, users[1].ID)
	}
}

func TestMarkSummarized(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	mustAddUser(t, repo, 1)

	at := time.Date(2025, 5, 5, 12, 0, 0, 0, time.UTC)
	if err := repo.MarkSummarized(ctx, 1, at); err != nil {
		t.Fatalf("mark: %v", err)
	}
	u, _ := repo.GetUser(ctx, 1)
	if u.LastSummaryAt == nil || !u.LastSummaryAt.Equal(at) {
		t.Fatalf("want %s, got %v", at, u.LastSummaryAt)
	}
	if err := repo.MarkSummarized(ctx, 404, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAddChannel_Durable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	repo, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := repo.AddUser(ctx, 1, "u", "U"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if _, err := repo.AddChannel(ctx, 1, "durov", nil, ""); err != nil {
		t.Fatalf("add channel: %v", err)
	}
	_ = repo.Close()

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	subs, err := reopened.ListChannels(ctx, 1)
	if err != nil || len(subs) != 1 {
		t.Fatalf("want 1 channel after reopen, got %d (%v)", len(subs), err)
	}
}

func TestRunMigrations_RecordsVersions(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// A second run must be a no-op.
	if err := RunMigrations(ctx, repo.db); err != nil {
		t.Fatalf("rerun migrations: %v", err)
	}

	var n int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = '001_init'`).Scan(&n); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 001_init recorded once, got %d", n)
	}
}
