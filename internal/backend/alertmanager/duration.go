// internal/backend/alertmanager/duration.go - Elapsed time formatting for alert ages
package alertmanager

import (
	"fmt"
	"time"
)

// formatDuration renders the elapsed wall time since a timestamp using the
// largest applicable unit combination. Lower units are zero-padded to two
// digits once a higher unit is present, e.g. "1h 02m 05s".
func formatDuration(since, now time.Time) string {
	elapsed := now.Sub(since)
	if elapsed < 0 {
		elapsed = 0
	}

	total := int(elapsed.Seconds())
	days := total / 86400
	rest := total % 86400
	hours := rest / 3600
	minutes := rest % 3600 / 60
	seconds := rest % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %02dm %02ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %02dm %02ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%02dm %02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%02ds", seconds)
	}
}
