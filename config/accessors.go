package config

import "maps"

// Exists reports whether a dotted key was set by any source.
func (c *Config) Exists(key string) bool {
	return c.k != nil && c.k.Exists(key)
}

// GetString returns the raw value at key, or defaultVal when it is unset.
func (c *Config) GetString(key string, defaultVal ...string) string {
	if c.Exists(key) {
		return c.k.String(key)
	}
	if len(defaultVal) > 0 {
		return defaultVal[0]
	}
	return ""
}

// All returns a flattened copy of every loaded key.
func (c *Config) All() map[string]any {
	if c.k == nil {
		return map[string]any{}
	}
	return maps.Clone(c.k.All())
}
