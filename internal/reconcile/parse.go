package reconcile

import (
	"fmt"
	"strings"
	"time"
)

const portalDateLayout = "02/01/2006"

// ParseDate parses the portal's dd/mm/yyyy rendering.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(portalDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}

// ParseSlotTime normalizes the portal's slot times to HH:MM. The grids render
// HH:MM, HH:MM:SS and occasionally junk with extra colon groups; anything
// with two leading numeric groups is accepted.
func ParseSlotTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), nil
		}
	}

	parts := strings.Split(s, ":")
	if len(parts) >= 2 {
		candidate := fmt.Sprintf("%02s:%02s", parts[0], parts[1])
		if t, err := time.Parse("15:04", candidate); err == nil {
			return t.Format("15:04"), nil
		}
	}

	return "", fmt.Errorf("bad slot time %q", s)
}

// NormalizeDigits strips everything but digits from a phone rendering.
func NormalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
