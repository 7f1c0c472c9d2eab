package model

import "time"

// EntryState describes where an entry is in its one-way lifecycle.
type EntryState string

const (
	// StateVisible is the initial state of every entry and section.
	StateVisible EntryState = "visible"
	// StateLeaving means the entry carries the leaving class and will be
	// detached once its transition delay elapses.
	StateLeaving EntryState = "leaving"
	// StatePast means the entry carries the past class and stays in place.
	StatePast EntryState = "past"
)

// EventEntry is a read-only snapshot of one displayed event.
type EventEntry struct {
	// Label is the raw date text the entry is classified by,
	// e.g. "August 30, 2025".
	Label       string
	Title       string
	Description string

	// Section is the heading of the enclosing DateSection.
	Section string

	// Date is the parsed label at midnight in the display timezone.
	// Zero when Parsed is false.
	Date   time.Time
	Parsed bool

	State EntryState
}

// DateSection is a snapshot of a heading-grouped cluster of entries.
type DateSection struct {
	Heading string
	State   EntryState
	Entries []EventEntry
}
