package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// localStore reads byte ranges from the local filesystem. Files are opened
// per read so thousands of sources never pin thousands of descriptors.
type localStore struct{}

// NewLocalStore returns a Store over the local filesystem.
func NewLocalStore() Store {
	return localStore{}
}

func (localStore) Size(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(key)
	if err != nil {
		return 0, classifyLocalError(fmt.Errorf("stat %s: %w", key, err), err)
	}
	return info.Size(), nil
}

func (localStore) ReadRange(ctx context.Context, key string, start, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(key)
	if err != nil {
		return nil, classifyLocalError(fmt.Errorf("open %s: %w", key, err), err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransient, key, err)
	}
	return buf[:n], nil
}

func classifyLocalError(wrapped, cause error) error {
	if errors.Is(cause, fs.ErrNotExist) || errors.Is(cause, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, wrapped)
	}
	return fmt.Errorf("%w: %v", ErrTransient, wrapped)
}
