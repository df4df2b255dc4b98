// Package format provides human-readable formatting for transfer and encode
// progress: byte counts, rates, percentages, and ETA durations.
package format

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jmylchreest/recodarr/pkg/bytesize"
)

var printer = message.NewPrinter(language.English)

// Bytes formats a byte count into a human-readable size ("1.5KB").
func Bytes(n int64) string {
	return bytesize.Format(bytesize.Size(n))
}

// Speed formats a bytes-per-second rate ("12.5MB/s").
func Speed(bytesPerSecond int64) string {
	if bytesPerSecond <= 0 {
		return "0B/s"
	}
	return bytesize.Format(bytesize.Size(bytesPerSecond)) + "/s"
}

// Percent formats a 0-100 percentage with one decimal place.
func Percent(p float64) string {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return fmt.Sprintf("%.1f%%", p)
}

// ETA formats a remaining-time estimate. Sub-second estimates render as "<1s";
// unknown (negative) estimates render as "--".
func ETA(d time.Duration) string {
	switch {
	case d < 0:
		return "--"
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// Number formats an integer with thousand separators ("1,234,567").
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Ratio formats a compression ratio (0..1) as a percentage saved.
func Ratio(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}
