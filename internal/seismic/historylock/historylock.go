// Package historylock holds the advisory-locking discipline shared by every
// component that touches a station's on-disk history logs: the Station
// Worker appending rows and the History Watcher tailing them concurrently.
// No lock library (gofrs/flock, go-flock, etc.) appears anywhere in the
// retrieval corpus, so this wraps the standard library's syscall.Flock
// directly (see DESIGN.md).
package historylock

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"
)

const acquireTimeout = 300 * time.Millisecond
const retryInterval = 10 * time.Millisecond

// WithExclusiveLock opens path for read/write, creating it if necessary,
// acquires a non-blocking exclusive flock with a short bounded retry, and
// calls fn with the open file while the lock is held.
func WithExclusiveLock(path string, fn func(*os.File) error) error {
	return withLock(path, os.O_CREATE|os.O_RDWR, syscall.LOCK_EX, fn)
}

// WithSharedLock opens path read-only and acquires a non-blocking shared
// flock with the same bounded retry, so concurrent readers never block one
// another but always exclude an in-progress writer.
func WithSharedLock(path string, fn func(*os.File) error) error {
	return withLock(path, os.O_RDONLY, syscall.LOCK_SH, fn)
}

func withLock(path string, openFlag, lockFlag int, fn func(*os.File) error) error {
	fh, err := os.OpenFile(path, openFlag, 0644)
	if err != nil {
		return err
	}
	defer fh.Close()

	if err := acquire(fh, lockFlag); err != nil {
		return err
	}
	defer syscall.Flock(int(fh.Fd()), syscall.LOCK_UN)

	return fn(fh)
}

func acquire(fh *os.File, lockFlag int) error {
	deadline := time.Now().Add(acquireTimeout)
	for {
		err := syscall.Flock(int(fh.Fd()), lockFlag|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("historylock: timed out acquiring lock on %s: %w", fh.Name(), err)
		}
		time.Sleep(retryInterval)
	}
}

// ReadLines reads every line of path under a shared lock, returning nil
// (not an error) if the file does not exist yet, since a history log may not
// have been written to on the first tail after startup.
func ReadLines(path string) ([]string, error) {
	var lines []string
	err := WithSharedLock(path, func(fh *os.File) error {
		data, err := io.ReadAll(fh)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return lines, err
}
