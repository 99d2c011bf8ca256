//go:build !unix

package daemon

import (
	"github.com/tinyland-inc/hostbridge/pkg/logger"
)

// AcquireLock is a no-op on platforms without flock.
func AcquireLock(dir string) (*Lock, error) {
	logger.WarnC("daemon", "Single-daemon locking is not supported on this platform")
	return &Lock{}, nil
}
