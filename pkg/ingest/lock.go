package ingest

import (
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// acquireLock takes the cross-process pass lock at path. An empty path
// disables it.
func acquireLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquire pass lock")
	}
	if !ok {
		return nil, errors.Wrapf(ErrPassInProgress, "lock %s is held by another process", path)
	}
	return func() {
		_ = lock.Unlock()
	}, nil
}
