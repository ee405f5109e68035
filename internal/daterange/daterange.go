package daterange

import (
	"time"
)

const day = 24 * time.Hour

// Symbolic range names accepted in DATE_FILTER.
const (
	Last15Days  = "last_15_days"
	Last1Month  = "last_1_month"
	Last3Months = "last_3_months"
	Last6Months = "last_6_months"
	Last1Year   = "last_1_year"
)

var spans = map[string]time.Duration{
	Last15Days:  15 * day,
	Last1Month:  30 * day,
	Last3Months: 90 * day,
	Last6Months: 180 * day,
	Last1Year:   365 * day,
}

// Range is a closed modification-time window.
type Range struct {
	Start time.Time
	End   time.Time
}

// Resolve maps a symbolic range name to a window ending at now.
// Unknown names report ok=false, which means "no date constraint" rather than an error.
func Resolve(name string, now time.Time) (Range, bool) {
	span, ok := spans[name]
	if !ok {
		return Range{}, false
	}
	return Range{Start: now.Add(-span), End: now}, true
}

// Names returns the supported range names, shortest span first.
func Names() []string {
	return []string{Last15Days, Last1Month, Last3Months, Last6Months, Last1Year}
}
