// Package duration provides human-readable duration parsing.
// It extends Go's standard time.ParseDuration with support for days and weeks,
// which cover retention windows like "30d" or "2 weeks".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnits maps day/week unit spellings to their hour multiplier.
var extendedUnits = map[string]int64{
	"w": 7 * 24, "wk": 7 * 24, "wks": 7 * 24, "week": 7 * 24, "weeks": 7 * 24,
	"d": 24, "day": 24, "days": 24,
}

// wordUnits maps spelled-out standard units to the short form Go accepts.
var wordUnits = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms",
}

var extendedPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)
var wordPattern = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?)`)

// Parse parses a human-readable duration string. "30d", "2 weeks", "1w2d12h"
// and every format time.ParseDuration accepts are all valid.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	s = strings.TrimSpace(s)

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var totalHours int64
	remaining := extendedPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedPattern.FindStringSubmatch(match)
		if len(parts) == 3 {
			value, _ := strconv.ParseInt(parts[1], 10, 64)
			if mult, ok := extendedUnits[strings.ToLower(parts[2])]; ok {
				totalHours += value * mult
			}
		}
		return ""
	})

	remaining = wordPattern.ReplaceAllStringFunc(remaining, func(match string) string {
		parts := wordPattern.FindStringSubmatch(match)
		if len(parts) == 3 {
			if short, ok := wordUnits[strings.ToLower(parts[2])]; ok {
				return parts[1] + short
			}
		}
		return match
	})

	// time.ParseDuration rejects whitespace between components.
	remaining = strings.Join(strings.Fields(strings.TrimSpace(remaining)), "")

	var durationStr string
	if totalHours > 0 {
		durationStr = fmt.Sprintf("%dh", totalHours)
	}
	durationStr += remaining
	if durationStr == "" {
		durationStr = "0s"
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}

	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format converts a duration to a compact human-readable string using the
// largest applicable units. Zero components are omitted.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var result strings.Builder

	weeks := d / Week
	d -= weeks * Week
	days := d / Day
	d -= days * Day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second

	if weeks > 0 {
		fmt.Fprintf(&result, "%dw", weeks)
	}
	if days > 0 {
		fmt.Fprintf(&result, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&result, "%dh", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&result, "%dm", minutes)
	}
	if seconds > 0 {
		fmt.Fprintf(&result, "%ds", seconds)
	}
	if d >= time.Millisecond && result.Len() == 0 {
		fmt.Fprintf(&result, "%dms", d/time.Millisecond)
	}

	if result.Len() == 0 {
		return d.String()
	}
	if negative {
		return "-" + result.String()
	}
	return result.String()
}
