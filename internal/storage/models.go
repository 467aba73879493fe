package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Company is a tradable security as identified on the event source.
// NationalID (ISIN) is unique; LocalCode (WKN) and Ticker are lookup keys too.
type Company struct {
	ID         int64
	Name       string
	NationalID string
	LocalCode  string
	Ticker     string // empty when the security has no listed symbol
}

type Event struct {
	ID        int64
	CompanyID int64
	Date      string // display string as published, not parsed
	Type      string
	Info      string
	CreatedAt time.Time
}

// CompanySummary is a cached company together with its live event count.
type CompanySummary struct {
	Company
	EventCount int
}

// Evicted reports how many rows EvictExpired removed.
type Evicted struct {
	Events    int64
	Responses int64
}
