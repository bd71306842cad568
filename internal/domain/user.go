package domain

import "time"

// User represents a bot user and their digest delivery settings.
type User struct {
	ID            int64
	Username      string
	FirstName     string
	Period        Period     // summary period in days
	LastSummaryAt *time.Time // UTC, nullable: never delivered yet
	CreatedAt     time.Time  // UTC
}

// DisplayName returns the first name if set, falling back to the username.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// Subscription is one user's tracking of one channel.
type Subscription struct {
	ID            int64
	UserID        int64
	Handle        string // normalized, without leading '@'
	ChannelID     *int64 // resolved MTProto channel id, nullable until resolved
	Title         string
	AddedAt       time.Time  // UTC
	LastMessageAt *time.Time // UTC, nullable
}

// DisplayTitle returns the channel title, or "@handle" when the title is unknown.
func (s *Subscription) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return "@" + s.Handle
}

// URL is the public t.me address of the channel.
func (s *Subscription) URL() string {
	return "https://t.me/" + s.Handle
}

// Message is a single channel post as seen by the digest pipeline.
type Message struct {
	ID    int
	Text  string
	Date  time.Time // UTC
	Views int
}
