package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"festpage/internal/model"
)

func TestWriteRoundTrip(t *testing.T) {
	events := []model.EventEntry{
		{
			Label:       "September 6, 2025",
			Title:       "Visarjan Procession",
			Description: "Procession starts at 4 PM from the main gate.",
			Section:     "September 6, 2025",
			Date:        time.Date(2025, time.September, 6, 0, 0, 0, 0, time.UTC),
			Parsed:      true,
		},
		{
			Label:   "September 12, 2025",
			Title:   "Rangoli",
			Section: "Rolling events",
			Date:    time.Date(2025, time.September, 12, 0, 0, 0, 0, time.UTC),
			Parsed:  true,
		},
		{Label: "Date to be announced", Title: "Satyanarayan Puja"},
	}

	var buf bytes.Buffer
	now := time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)
	if err := Write(&buf, Feed{Name: "Ganeshotsav 2025", Timezone: "Asia/Kolkata", Domain: "example.org"}, events, now); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	body := buf.String()
	for _, want := range []string{"METHOD:PUBLISH", "PRODID:" + DefaultProductID, "X-WR-CALNAME:Ganeshotsav 2025"} {
		if !strings.Contains(body, want) {
			t.Errorf("feed missing %q", want)
		}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseCalendar() error = %v", err)
	}
	vevents := cal.Events()
	if len(vevents) != 2 {
		t.Fatalf("got %d VEVENTs, want 2", len(vevents))
	}

	first := vevents[0]
	if got := first.GetProperty(ical.ComponentPropertySummary).Value; got != "Visarjan Procession" {
		t.Errorf("SUMMARY = %q", got)
	}
	if first.Id() != EventUID(events[0], "example.org") {
		t.Errorf("UID = %q", first.Id())
	}
	start, err := first.GetAllDayStartAt()
	if err != nil {
		t.Fatalf("GetAllDayStartAt() error = %v", err)
	}
	if y, m, d := start.Date(); y != 2025 || m != time.September || d != 6 {
		t.Errorf("DTSTART = %v", start)
	}
	end, err := first.GetAllDayEndAt()
	if err != nil {
		t.Fatalf("GetAllDayEndAt() error = %v", err)
	}
	if y, m, d := end.Date(); y != 2025 || m != time.September || d != 7 {
		t.Errorf("DTEND = %v", end)
	}

	if p := vevents[1].GetProperty(ical.ComponentPropertyDescription); p == nil || p.Value == "" {
		t.Error("second event should carry its section as description")
	}
}

func TestEventUIDStable(t *testing.T) {
	ev := model.EventEntry{Label: "August 30, 2025", Title: "Kids Drawing Competition"}
	a := EventUID(ev, "")
	b := EventUID(ev, "")
	if a != b {
		t.Errorf("UID not stable: %q vs %q", a, b)
	}
	if !strings.HasSuffix(a, "@festpage") {
		t.Errorf("UID = %q", a)
	}

	other := EventUID(model.EventEntry{Label: "August 30, 2025", Title: "Evening Aarti"}, "")
	if other == a {
		t.Error("different titles must not share a UID")
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Feed{}, nil, time.Now()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "BEGIN:VCALENDAR") || strings.Contains(buf.String(), "BEGIN:VEVENT") {
		t.Errorf("unexpected feed: %s", buf.String())
	}
}
