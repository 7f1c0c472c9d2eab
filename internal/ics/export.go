// Package ics publishes the upcoming events of the page as an iCalendar
// subscription feed.
package ics

import (
	"errors"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "festpage/internal/log"
	"festpage/internal/model"
)

// DefaultProductID is used when Feed.ProductID is empty.
const DefaultProductID = "-//festpage//Event Schedule//EN"

// uidNamespace keeps event UIDs stable across restarts: the same label and
// title always map to the same UID.
var uidNamespace = uuid.MustParse("6f2c1f4e-6b0e-4d8a-9f62-3c9b0d5a7e11")

// Feed describes the calendar as a whole.
type Feed struct {
	Name      string
	ProductID string
	// Timezone is advertised as X-WR-TIMEZONE. Events are all-day, so it
	// only helps clients pick a display zone.
	Timezone string
	// Domain is appended to UIDs, e.g. "festival.example.org".
	Domain string
}

// EventUID returns the stable UID for an entry.
func EventUID(ev model.EventEntry, domain string) string {
	id := uuid.NewSHA1(uidNamespace, []byte(ev.Label+"\x00"+ev.Title)).String()
	if domain == "" {
		domain = "festpage"
	}
	return id + "@" + domain
}

// Write serializes events as all-day VEVENTs. Entries without a parsed
// date are left out.
func Write(w io.Writer, feed Feed, events []model.EventEntry, now time.Time) error {
	if w == nil {
		return errors.New("ics: nil writer")
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	if feed.ProductID != "" {
		cal.SetProductId(feed.ProductID)
	} else {
		cal.SetProductId(DefaultProductID)
	}
	if feed.Name != "" {
		cal.SetXWRCalName(feed.Name)
	}
	if feed.Timezone != "" {
		cal.SetXWRTimezone(feed.Timezone)
	}

	written := 0
	for _, ev := range events {
		if !ev.Parsed {
			continue
		}
		start := ev.Date
		vev := cal.AddEvent(EventUID(ev, feed.Domain))
		vev.SetDtStampTime(now.UTC())
		vev.SetAllDayStartAt(start)
		vev.SetAllDayEndAt(start.AddDate(0, 0, 1))
		vev.SetSummary(summary(ev))
		if desc := description(ev); desc != "" {
			vev.SetDescription(desc)
		}
		written++
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return err
	}
	appLog.Debug("ics feed written", "events", written)
	return nil
}

func summary(ev model.EventEntry) string {
	if ev.Title != "" {
		return ev.Title
	}
	return ev.Label
}

func description(ev model.EventEntry) string {
	parts := make([]string, 0, 2)
	if ev.Description != "" {
		parts = append(parts, ev.Description)
	}
	if ev.Section != "" && ev.Section != ev.Label {
		parts = append(parts, ev.Section)
	}
	return strings.Join(parts, "\n")
}
