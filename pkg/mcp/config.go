package mcp

import "time"

const (
	DefaultURL             = "http://127.0.0.1:8765"
	DefaultProtocolVersion = "2025-06-18"
	DefaultTimeout         = 30 * time.Second
	DefaultMaxRetries      = 2
	DefaultRetryBackoff    = time.Second
	DefaultToolsCacheTTL   = 5 * time.Minute

	maxRetryBackoff = 5 * time.Second
)

// Config describes how to reach an MCP server over the streamable HTTP transport.
type Config struct {
	URL             string        `json:"url" yaml:"url" mapstructure:"url"`
	ProtocolVersion string        `json:"protocol_version" yaml:"protocol-version" mapstructure:"protocol-version"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max-retries" mapstructure:"max-retries"`
	RetryBackoff    time.Duration `json:"retry_backoff" yaml:"retry-backoff" mapstructure:"retry-backoff"`
	ToolsCacheTTL   time.Duration `json:"tools_cache_ttl" yaml:"tools-cache-ttl" mapstructure:"tools-cache-ttl"`
	ClientName      string        `json:"client_name" yaml:"client-name" mapstructure:"client-name"`
}

func DefaultConfig() Config {
	return Config{
		URL:             DefaultURL,
		ProtocolVersion: DefaultProtocolVersion,
		Timeout:         DefaultTimeout,
		MaxRetries:      DefaultMaxRetries,
		RetryBackoff:    DefaultRetryBackoff,
		ToolsCacheTTL:   DefaultToolsCacheTTL,
		ClientName:      "mcpturn",
	}
}

// backoff returns the delay before retry number attempt (starting at 1).
func (c Config) backoff(attempt int) time.Duration {
	d := c.RetryBackoff
	if d <= 0 {
		d = DefaultRetryBackoff
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}
