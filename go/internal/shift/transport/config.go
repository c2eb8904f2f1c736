package transport

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrAddressInUse is returned by Listen when another coordinator owns the address
	ErrAddressInUse = errors.New("address already in use")
	// ErrConnectionRefused is returned by Dial when no coordinator answers in time
	ErrConnectionRefused = errors.New("connection refused")
	// ErrDisconnected is returned when sending on, or waiting for, a connection that has gone away
	ErrDisconnected = errors.New("connection disconnected")
)

// Config holds configuration for socket connections
type Config struct {
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	SendBufferSize   int
}

// DefaultConfig returns the default connection configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		MaxMessageSize:   4096,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendBufferSize:   256,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	return c
}

// AddressFor returns the well-known socket path for a server id.
// An empty dir resolves to the OS temp directory.
func AddressFor(dir, serverID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, serverID+".sock")
}

func lockPath(address string) string {
	return address + ".lock"
}
