package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the deployment wide settings of a Router.
type Config struct {
	// DefaultIDColumn is used for requests without an id column
	DefaultIDColumn string
	// CacheTTL is the window in which a cached record is served without asking the remote store, 0 disables it
	CacheTTL time.Duration
	// MaxRetries is the number of retries of a connectivity failure while the link quality is at least moderate
	MaxRetries int
	// RetryDelay is the base of the linear backoff, retry n waits n*RetryDelay
	RetryDelay time.Duration
}

// DefaultConfig returns the router configuration used by the cli.
func DefaultConfig() Config {
	return Config{
		DefaultIDColumn: "id",
		CacheTTL:        5 * time.Minute,
		MaxRetries:      3,
		RetryDelay:      time.Second,
	}
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Data Router")
	addField("Default ID Column", c.DefaultIDColumn)
	addField("Cache TTL", c.CacheTTL.String())
	addField("Max Retries", strconv.Itoa(c.MaxRetries))
	addField("Retry Delay", c.RetryDelay.String())

	return sb.String()
}
