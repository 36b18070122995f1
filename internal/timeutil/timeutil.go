package timeutil

import (
	"fmt"
	"time"
)

// Remaining returns the time left until deadline, floored at zero.
func Remaining(now, deadline time.Time) time.Duration {
	d := deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders a countdown the way the mobile clients display it,
// e.g. "1h 24m remaining" or "Expired".
func FormatRemaining(now, deadline time.Time) string {
	d := deadline.Sub(now)
	if d <= 0 {
		return "Expired"
	}
	hours := int(d / time.Hour)
	minutes := int(d/time.Minute) % 60
	return fmt.Sprintf("%dh %dm remaining", hours, minutes)
}
