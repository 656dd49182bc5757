package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract materializes a member to a uniquely named temp file below dir
// (the OS temp directory when dir is empty) and returns its path.
// The caller owns deletion of the returned file.
func (ix *Index) Extract(snap *Snapshot, memberPath, dir string) (string, error) {
	f, err := ix.extractToTemp(snap, memberPath, dir)
	if err != nil {
		return "", err
	}

	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)

		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	return name, nil
}

// ExtractUnlinked materializes a member to a temp file that is unlinked
// immediately after creation, so the descriptor is the only remaining
// reference and the OS reclaims the space once it is closed.
func (ix *Index) ExtractUnlinked(snap *Snapshot, memberPath, dir string) (*os.File, error) {
	f, err := ix.extractToTemp(snap, memberPath, dir)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("failed to unlink temp file: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("failed to rewind temp file: %w", err)
	}

	return f, nil
}

func (ix *Index) extractToTemp(snap *Snapshot, memberPath, dir string) (*os.File, error) {
	m := ix.newMetric(true)
	defer m.Done()

	r, mr, err := ix.OpenMember(snap, memberPath)
	if err != nil {
		return nil, err
	}
	defer r.Release() //nolint:errcheck
	defer mr.Close()  //nolint:errcheck

	pattern := tempPattern(memberPath)
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(f, mr)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())

		return nil, fmt.Errorf("failed to extract member: %w", err)
	}
	m.AddBytes(n)

	return f, nil
}

// tempPattern derives an os.CreateTemp pattern keeping the member's
// extension, so consumers sniffing by suffix still work.
func tempPattern(memberPath string) string {
	base := filepath.Base(memberPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return "transfs-" + stem + "-*" + ext
}
