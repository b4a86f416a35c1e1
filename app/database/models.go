package database

import (
	"time"
)

// Source is one configured watch: a named set of catalog URLs with the
// notification sink they deliver to.
type Source struct {
	ID         int64
	Name       string
	WebhookURL string
	ChannelID  string // Discord bot channel, used when WebhookURL is empty
	EmbedColor int
	Active     bool
	ItemsFound int64
	CreatedAt  time.Time
	URLs       []SourceURL
}

// SourceURL is one catalog query belonging to a source. LastItemTS is the
// high-water mark: the created_at of the newest item ever accepted from this
// URL, unix seconds, monotonically advanced.
type SourceURL struct {
	ID         int64
	SourceID   int64
	URL        string
	LastItemTS int64
}

// DeliveryRecord is the durable fact that an external item id has been
// delivered. Its presence suppresses any further new-item notification.
type DeliveryRecord struct {
	ItemID      int64
	SourceID    int64
	Title       string
	Price       float64
	Currency    string
	DeliveredAt time.Time
}

// PriceTrack follows one listing identity (content fingerprint) across
// relistings so price drops can be detected.
type PriceTrack struct {
	Fingerprint string
	Title       string
	FirstPrice  float64
	LastPrice   float64
	LowestPrice float64
	Currency    string
	Drops       int64
	FirstSeen   time.Time
	UpdatedAt   time.Time
}

type LogEntry struct {
	ID        int64
	Level     string
	Message   string
	Source    string
	CreatedAt time.Time
}
