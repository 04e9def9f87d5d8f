package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds the socket buffer settings of stream transports (tcp, unix)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ServerTransportConfig configures the listening side of a transport
type ServerTransportConfig struct {
	// Endpoint is the listen address (host:port or a unix socket path)
	Endpoint string
	// WorkersPerConn limits the requests processed concurrently per connection (stream transports)
	WorkersPerConn int
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the dialing side of a transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	// ShardTypeSQLite keeps the records of the shard in a sqlite file below the data directory
	ShardTypeSQLite ServerShardType = "sqlite"
	// ShardTypeMemory keeps the records of the shard in memory
	ShardTypeMemory ServerShardType = "memory"
)

// ParseShardType parses "sqlite" or "memory".
func ParseShardType(s string) (ServerShardType, error) {
	switch ServerShardType(strings.TrimSpace(s)) {
	case ShardTypeSQLite:
		return ShardTypeSQLite, nil
	case ShardTypeMemory:
		return ShardTypeMemory, nil
	default:
		return "", fmt.Errorf("invalid shard type: %s (expected one of: sqlite, memory)", s)
	}
}

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type selects the backend of the shard
	Type ServerShardType
}

// ServerConfig holds all configuration parameters of the remote service.
type ServerConfig struct {
	// Shards served by this node
	Shards []ServerShard

	// DataDir holds the sqlite files and the uploaded blobs
	DataDir string

	// TimeoutSecond is the read and write deadline of stream connections
	TimeoutSecond int64

	// MetricsEndpoint serves the prometheus metrics, empty disables it
	MetricsEndpoint string

	// Logging configuration
	LogLevel string

	// Transport settings
	Transport ServerTransportConfig
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(max(1, c.Transport.WorkersPerConn)))
	addField("Metrics Endpoint", c.MetricsEndpoint)

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
