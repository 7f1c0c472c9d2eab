package store

import "time"

// GestureHint tracks whether the swipe/pull gesture hint was already shown.
type GestureHint struct {
	s Store
}

func NewGestureHint(s Store) *GestureHint {
	return &GestureHint{s: s}
}

// Shown reports whether the hint was recorded, and on which day.
func (g *GestureHint) Shown() (bool, string, error) {
	v, ok, err := g.s.Get(KeyGestureHintShown)
	if err != nil {
		return false, "", err
	}
	return ok && v != "", v, nil
}

// MarkShown records the hint as shown on the day of now.
func (g *GestureHint) MarkShown(now time.Time) error {
	return g.s.Set(KeyGestureHintShown, now.Format(DateLayout))
}
