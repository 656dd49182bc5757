package resolver

import (
	"fmt"
	"os"
)

// locator wraps the physical probes the resolver runs. A missing file or
// directory is a normal negative result (nil info, nil error); only real
// I/O failures surface as errors.
type locator struct{}

func (l *locator) stat(path string) (os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	return fi, nil
}

func (l *locator) readDir(path string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read dir %q: %w", path, err)
	}

	return entries, nil
}
