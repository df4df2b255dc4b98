package config

import (
	"encoding/json"
	"time"

	"github.com/jmylchreest/recodarr/pkg/duration"
)

// Duration is a time.Duration that accepts extended human-readable input in
// config files: the standard Go forms plus 'd' (days) and 'w' (weeks), so
// "30s", "90m", "2d", and "1w2d" all parse. It implements
// encoding.TextUnmarshaler for Viper/YAML and json.Unmarshaler for the
// settings API.
type Duration time.Duration

// ParseConfigDuration parses a human-readable duration string.
func ParseConfigDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseConfigDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept a bare number of nanoseconds.
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns a human-readable representation using the largest units
// that divide evenly, e.g. "2d12h" rather than "60h".
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}
