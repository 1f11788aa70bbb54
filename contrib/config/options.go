package config

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option configures a Config instance.
type Option func(*options)

type options struct {
	sources []Source
}

// WithSource registers one or more configuration sources, applied in
// order (later sources take precedence when keys overlap).
func WithSource(s ...Source) Option {
	return func(o *options) {
		o.sources = s
	}
}

type Unmarshal func(data []byte, v any) error

func toUnmarshal(format string) Unmarshal {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Unmarshal
	default:
		return json.Unmarshal
	}
}
