package reminder

import (
	"fmt"
	"strings"
	"time"
)

// FormatRemaining renders a duration the way a person says it:
// "1 hour and 5 minutes", "45 minutes", "30 seconds".
func FormatRemaining(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	switch {
	case total >= 3600:
		hours := total / 3600
		minutes := (total % 3600) / 60
		if minutes > 0 {
			return fmt.Sprintf("%d %s and %d %s", hours, plural("hour", hours), minutes, plural("minute", minutes))
		}
		return fmt.Sprintf("%d %s", hours, plural("hour", hours))
	case total >= 60:
		minutes := total / 60
		return fmt.Sprintf("%d %s", minutes, plural("minute", minutes))
	default:
		return fmt.Sprintf("%d %s", total, plural("second", total))
	}
}

func plural(unit string, n int) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

// Remaining is the time left until the notice's assignment is due,
// measured from now.
func (n Notice) Remaining(now time.Time) time.Duration {
	return n.Assignment.DueAt.Sub(now)
}

// DedupKey is a stable diagnostic label for the (identity, target) pair.
func (n Notice) DedupKey() string {
	return n.Assignment.ID + "@" + n.Target.UTC().Format(time.RFC3339)
}

func (n Notice) String() string {
	var b strings.Builder
	b.WriteString(n.Assignment.Name)
	b.WriteString(" (")
	b.WriteString(n.Offset.String())
	b.WriteString(" before due)")
	return b.String()
}
