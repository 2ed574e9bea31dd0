package models

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCommitted  = "committed"
	StatusFailed     = "failed"
)

// MainlineTimeline is the timeline value for canonical chapters; branch
// chapters carry their branch id instead.
const MainlineTimeline = "mainline"

type Chapter struct {
	ChapterID  string
	Timeline   string
	Status     string
	Provenance string
	FailReason string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Branch struct {
	BranchID   string
	AnchorID   string
	ChapterID  string
	BranchType string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
