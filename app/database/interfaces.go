package database

import (
	"time"
)

// Narrow store contracts consumed by the pipeline packages. The concrete
// repositories in this package implement them; tests substitute fakes.

type SourceStore interface {
	GetActiveSources() ([]Source, error)
	GetAllSources() ([]Source, error)
	ToggleSource(id int64) (bool, error)
	IncrementItemsFound(sourceID int64) error
	AdvanceHighWaterMark(urlID int64, ts int64) error
	GetSourceCount() (int, error)
}

type DeliveryStore interface {
	DeliveryExists(itemID int64) (bool, error)
	RecordDelivery(rec DeliveryRecord) error
	GetDeliveryCount() (int, error)
}

type PriceStore interface {
	GetPriceTrack(fingerprint string) (*PriceTrack, error)
	UpsertPriceTrack(track PriceTrack) error
}

type ConfigStore interface {
	GetConfig(key string) string
	GetConfigInt(key string, fallback int) int
	GetConfigDuration(key string, fallback time.Duration) time.Duration
	SetConfig(key, value string) error
	Invalidate()
}

type LogStore interface {
	AppendLog(level, message, source string) error
	RecentLogs(limit int) ([]LogEntry, error)
	GetLogCount() (int, error)
}
