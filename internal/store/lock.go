package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// AcquireLock takes the single-instance file lock next to the database. Two
// dashboards writing the same database would fight over window claims.
func AcquireLock(dbPath string) (*flock.Flock, error) {
	lockPath := dbPath + ".lock"
	if dir := filepath.Dir(lockPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}

	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another instance is already running (lock held at %s)", lockPath)
	}
	return fl, nil
}
