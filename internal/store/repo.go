package store

import (
	"context"
	"errors"
	"time"

	"github.com/ykvlv/digest-bot/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateSubscription = errors.New("channel already tracked")
)

// Repo defines storage operations for users and their channel subscriptions.
// Every mutation is committed before the call returns.
type Repo interface {
	AddUser(ctx context.Context, id int64, username, firstName string) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	SetSummaryPeriod(ctx context.Context, userID int64, p domain.Period) error
	UsersDueForSummary(ctx context.Context, now time.Time, limit int) ([]domain.User, error)
	MarkSummarized(ctx context.Context, userID int64, at time.Time) error

	AddChannel(ctx context.Context, userID int64, handle string, channelID *int64, title string) (*domain.Subscription, error)
	RemoveChannel(ctx context.Context, userID int64, handle string) error
	ListChannels(ctx context.Context, userID int64) ([]domain.Subscription, error)
	UpdateChannelInfo(ctx context.Context, userID int64, handle string, channelID int64, title string) error
	UpdateChannelLastMessage(ctx context.Context, userID int64, handle string, at time.Time) error

	Close() error
}
