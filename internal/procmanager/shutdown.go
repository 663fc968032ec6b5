package procmanager

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long Shutdown waits after SIGTERM before
// escalating to SIGKILL (§5: "two-phase SIGTERM -> wait(5s) -> SIGKILL").
const DefaultGracePeriod = 5 * time.Second

// Shutdown signals h to terminate, waits up to grace for it to exit on
// its own, and sends SIGKILL if it hasn't. It returns the error from
// Wait, or nil if the process had already exited.
func Shutdown(h ProcessHandle, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	if err := h.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return fmt.Errorf("procmanager: sigterm pid %d: %w", h.Pid(), err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
	}

	if err := h.Signal(syscall.SIGKILL); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("procmanager: sigkill pid %d: %w", h.Pid(), err)
	}

	return <-done
}
