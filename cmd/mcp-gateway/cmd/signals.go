package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals returns the OS signals that trigger graceful shutdown:
// SIGINT (Ctrl+C) and SIGTERM (kill, container stop).
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}
