package transport

import (
	"fmt"
	"strings"
	"time"
)

// ParseTimeframe converts M1, M5, M15, M30, H1, H4, D1 to a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	switch strings.ToUpper(tf) {
	case "M1":
		return time.Minute, nil
	case "M5":
		return 5 * time.Minute, nil
	case "M15":
		return 15 * time.Minute, nil
	case "M30":
		return 30 * time.Minute, nil
	case "H1":
		return time.Hour, nil
	case "H4":
		return 4 * time.Hour, nil
	case "D1":
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown timeframe %q", tf)
}
