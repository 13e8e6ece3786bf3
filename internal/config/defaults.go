package config

import "time"

const (
	DefaultAdminAddr   = "127.0.0.1:8080"
	DefaultTCPAddr     = "127.0.0.1:9000"
	DefaultIdleTimeout = 5 * time.Minute
	DefaultReadBuffer  = 4096
)

// Applications a session can be connected to.
const (
	ApplicationEcho    = "echo"
	ApplicationDiscard = "discard"
)

// DefaultLogDir returns the default log directory path.
func DefaultLogDir() string {
	return "~/.iochain/logs"
}
