package common

import (
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports text-based
// (un)marshaling, so config files can express durations as "30s" or "1h30m".
type Duration struct {
	time.Duration
}

// NewDuration returns a Duration wrapping the given time.Duration.
func NewDuration(duration time.Duration) Duration {
	return Duration{duration}
}

// UnmarshalText parses a textual duration such as "250ms" or "1h30m45s".
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}

	d.Duration = duration
	return nil
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML decodes a YAML scalar node into the duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	return d.UnmarshalText([]byte(raw))
}

// MarshalYAML encodes the duration as a YAML scalar.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// JSONSchema returns the JSON schema definition used when generating
// configuration documentation.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units: ns (nanoseconds), us (microseconds), ms (milliseconds), s (seconds), m (minutes), h (hours)",
		Examples: []any{
			"1m",
			"300ms",
		},
	}
}
