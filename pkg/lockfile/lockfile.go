package lockfile

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Take acquires an exclusive lock file, retrying once a second until the
// context is cancelled. The waiting callback fires on each failed
// attempt so callers can tell the user why nothing is happening. The
// returned function releases the lock and may be called more than once.
func Take(ctx context.Context, path string, waiting func()) (func(), error) {
	tk := time.NewTicker(time.Second)
	defer tk.Stop()

	var (
		f   *os.File
		err error
	)

	for {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			break
		}

		if waiting != nil {
			waiting()
		}

		select {
		case <-tk.C:
			// retry
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// the pid makes a stale lock attributable
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	closer := func() {
		os.Remove(path)
	}

	return closer, nil
}
