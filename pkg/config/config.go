// Package config provides configuration for the memcached server and client.
//
// Values come from three sources with the following precedence:
//  1. Environment variables (highest priority)
//  2. Command-line flags
//  3. Default values (lowest priority)
//
// Environment variables are prefixed with "MEMCACHED_" and use uppercase
// names, so the server port can be set with MEMCACHED_PORT=11311.
//
// Example server usage:
//
//	cfg, err := config.LoadServerConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//	srv := server.New(cfg)
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MEMCACHED_"

// Default configuration values
const (
	DefaultHost             = "0.0.0.0"
	DefaultServerPort       = 11211
	DefaultMaxConnections   = 1024
	DefaultReadTimeoutSecs  = 30
	DefaultWriteTimeoutSecs = 10
	DefaultMaxLine          = 2048
	DefaultMaxItemSize      = 1024 * 1024
	DefaultNamespace        = "memcache:"
	DefaultLogLevel         = "info"

	DefaultMaxConnsPerNode = 10
	DefaultConnTimeoutSecs = 5
	DefaultRetryAttempts   = 3
	DefaultVirtualNodes    = 150
)

// ServerConfig holds the settings of one server process.
type ServerConfig struct {
	Host         string // address to bind to
	Port         int    // TCP port to listen on
	MaxConns     int    // connections served at the same time
	ReadTimeout  int    // keep-alive timeout in seconds, applied to every read
	WriteTimeout int    // write timeout in seconds
	KeepAliveMax int    // commands served per connection, 0 for no limit
	MaxLine      int    // longest accepted command line in bytes
	MaxItemSize  int    // largest accepted data block in bytes
	Namespace    string // prefix separating this server's keys in the store
	LogLevel     string // debug, info, warn or error
}

// ClientConfig holds the settings of a client talking to one or more servers.
//
// Example:
//
//	cfg := &config.ClientConfig{
//		Nodes:           []string{"cache1:11211", "cache2:11211"},
//		MaxConnsPerNode: 20,
//		RetryAttempts:   3,
//	}
//	c := client.NewWithConfig(cfg)
type ClientConfig struct {
	Nodes           []string // server addresses in host:port form
	MaxConnsPerNode int      // idle connections kept per node
	ConnTimeout     int      // dial timeout in seconds
	ReadTimeout     int      // read timeout in seconds
	WriteTimeout    int      // write timeout in seconds
	RetryAttempts   int      // extra attempts after a transport failure
	VirtualNodes    int      // ring points per node
}

// DefaultServerConfig returns a ServerConfig with every field at its default.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         DefaultHost,
		Port:         DefaultServerPort,
		MaxConns:     DefaultMaxConnections,
		ReadTimeout:  DefaultReadTimeoutSecs,
		WriteTimeout: DefaultWriteTimeoutSecs,
		MaxLine:      DefaultMaxLine,
		MaxItemSize:  DefaultMaxItemSize,
		Namespace:    DefaultNamespace,
		LogLevel:     DefaultLogLevel,
	}
}

// DefaultClientConfig returns a ClientConfig pointing at a local server.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Nodes:           []string{fmt.Sprintf("localhost:%d", DefaultServerPort)},
		MaxConnsPerNode: DefaultMaxConnsPerNode,
		ConnTimeout:     DefaultConnTimeoutSecs,
		ReadTimeout:     DefaultReadTimeoutSecs,
		WriteTimeout:    DefaultWriteTimeoutSecs,
		RetryAttempts:   DefaultRetryAttempts,
		VirtualNodes:    DefaultVirtualNodes,
	}
}

// LoadServerConfig reads the process flags and environment.
func LoadServerConfig() (*ServerConfig, error) {
	return ParseServerConfig(flag.CommandLine, os.Args[1:])
}

// ParseServerConfig registers the server flags on fs, parses args and then
// applies MEMCACHED_* environment variables on top.
//
// Command-line flags:
//
//	-host, -port, -max-conns, -read-timeout, -write-timeout,
//	-keepalive-max, -max-line, -max-item-size, -namespace, -log-level
//
// Each flag has a matching variable, e.g. -max-conns and MEMCACHED_MAX_CONNS.
func ParseServerConfig(fs *flag.FlagSet, args []string) (*ServerConfig, error) {
	config := DefaultServerConfig()

	fs.StringVar(&config.Host, "host", config.Host, "Server host")
	fs.IntVar(&config.Port, "port", config.Port, "Server port")
	fs.IntVar(&config.MaxConns, "max-conns", config.MaxConns, "Maximum concurrent connections")
	fs.IntVar(&config.ReadTimeout, "read-timeout", config.ReadTimeout, "Keep-alive timeout in seconds")
	fs.IntVar(&config.WriteTimeout, "write-timeout", config.WriteTimeout, "Write timeout in seconds")
	fs.IntVar(&config.KeepAliveMax, "keepalive-max", config.KeepAliveMax, "Requests per connection (0 = unlimited)")
	fs.IntVar(&config.MaxLine, "max-line", config.MaxLine, "Maximum command line length in bytes")
	fs.IntVar(&config.MaxItemSize, "max-item-size", config.MaxItemSize, "Maximum data block size in bytes")
	fs.StringVar(&config.Namespace, "namespace", config.Namespace, "Key namespace")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envString("HOST", &config.Host)
	envString("NAMESPACE", &config.Namespace)
	envString("LOG_LEVEL", &config.LogLevel)
	for name, dst := range map[string]*int{
		"PORT":          &config.Port,
		"MAX_CONNS":     &config.MaxConns,
		"READ_TIMEOUT":  &config.ReadTimeout,
		"WRITE_TIMEOUT": &config.WriteTimeout,
		"KEEPALIVE_MAX": &config.KeepAliveMax,
		"MAX_LINE":      &config.MaxLine,
		"MAX_ITEM_SIZE": &config.MaxItemSize,
	} {
		if err := envInt(name, dst); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// LoadClientConfig reads client settings from the environment.
//
// Environment variables:
//
//	MEMCACHED_NODES: comma-separated list of server addresses
//	MEMCACHED_MAX_CONNS_PER_NODE, MEMCACHED_CONN_TIMEOUT,
//	MEMCACHED_READ_TIMEOUT, MEMCACHED_WRITE_TIMEOUT,
//	MEMCACHED_RETRY_ATTEMPTS, MEMCACHED_VIRTUAL_NODES
func LoadClientConfig() (*ClientConfig, error) {
	config := DefaultClientConfig()

	if nodes := os.Getenv(EnvPrefix + "NODES"); nodes != "" {
		config.Nodes = config.Nodes[:0]
		for _, node := range strings.Split(nodes, ",") {
			config.Nodes = append(config.Nodes, strings.TrimSpace(node))
		}
	}

	for name, dst := range map[string]*int{
		"MAX_CONNS_PER_NODE": &config.MaxConnsPerNode,
		"CONN_TIMEOUT":       &config.ConnTimeout,
		"READ_TIMEOUT":       &config.ReadTimeout,
		"WRITE_TIMEOUT":      &config.WriteTimeout,
		"RETRY_ATTEMPTS":     &config.RetryAttempts,
		"VIRTUAL_NODES":      &config.VirtualNodes,
	} {
		if err := envInt(name, dst); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Address returns the host:port the server listens on.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ReadTimeoutDuration returns ReadTimeout as a time.Duration.
func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns WriteTimeout as a time.Duration.
func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// Validate checks that every value is within range and returns the first
// problem found.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.ReadTimeout < 1 {
		return fmt.Errorf("read timeout must be positive: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 1 {
		return fmt.Errorf("write timeout must be positive: %d", c.WriteTimeout)
	}

	if c.KeepAliveMax < 0 {
		return fmt.Errorf("keep-alive max must be non-negative: %d", c.KeepAliveMax)
	}

	// The longest legal line is a storage command with a full length key.
	if c.MaxLine < 64 {
		return fmt.Errorf("max line must be at least 64 bytes: %d", c.MaxLine)
	}

	if c.MaxItemSize < 1 {
		return fmt.Errorf("max item size must be positive: %d", c.MaxItemSize)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Validate checks that at least one well formed node is configured and that
// the pool and retry settings are usable.
func (c *ClientConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be specified")
	}

	for _, node := range c.Nodes {
		if node == "" {
			return fmt.Errorf("empty node address")
		}
		if _, _, err := net.SplitHostPort(node); err != nil {
			return fmt.Errorf("invalid node address format: %s", node)
		}
	}

	if c.MaxConnsPerNode < 1 {
		return fmt.Errorf("max connections per node must be positive: %d", c.MaxConnsPerNode)
	}

	if c.ConnTimeout < 1 {
		return fmt.Errorf("connection timeout must be positive: %d", c.ConnTimeout)
	}

	if c.ReadTimeout < 1 {
		return fmt.Errorf("read timeout must be positive: %d", c.ReadTimeout)
	}

	if c.WriteTimeout < 1 {
		return fmt.Errorf("write timeout must be positive: %d", c.WriteTimeout)
	}

	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must be non-negative: %d", c.RetryAttempts)
	}

	if c.VirtualNodes < 1 {
		return fmt.Errorf("virtual nodes must be positive: %d", c.VirtualNodes)
	}

	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
	}
	*dst = n
	return nil
}
