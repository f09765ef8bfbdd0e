package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file must be before it is presumed
// abandoned and broken.
const staleLockAge = 10 * time.Minute

// Lock is a coarse advisory lock held for a whole plan/apply run. It
// guards against two operators on the same workspace; distributed
// locking across remote stores is out of scope.
type Lock struct {
	path string
}

func NewLock(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, "strata.lock")}
}

// Acquire takes the lock, breaking a stale one. O_EXCL creation makes
// acquisition atomic; two racing processes cannot both succeed.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			if _, werr := f.WriteString(content); werr != nil {
				f.Close()
				return fmt.Errorf("write lock file: %w", werr)
			}
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file: %w", err)
		}
		info, serr := os.Stat(l.path)
		if os.IsNotExist(serr) {
			// The holder released between the open and the stat.
			continue
		}
		if serr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(l.path)
			continue
		}
		break
	}
	return fmt.Errorf("workspace is locked by another process (lock file: %s); "+
		"remove the file manually if that process is gone", l.path)
}

// Release removes the lock. Releasing an unheld lock is not an error.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
