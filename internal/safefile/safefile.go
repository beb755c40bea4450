// Package safefile opens configuration and dataset files with two guards:
// symbolic links are refused and files larger than a caller-supplied limit
// are rejected before any byte is read.
package safefile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrTooLarge is returned when a file exceeds the allowed size.
var ErrTooLarge = errors.New("file too large")

// check stats path without following links and enforces maxBytes when positive.
func check(path string, maxBytes int64) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s is a symbolic link (rejected)", path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%s: %w (%d bytes, max %d)", path, ErrTooLarge, info.Size(), maxBytes)
	}
	return info, nil
}

// ReadFileMax reads path after verifying it is a regular file no larger than
// maxBytes. A maxBytes of zero or less disables the size check.
func ReadFileMax(path string, maxBytes int64) ([]byte, error) {
	f, err := OpenMax(path, maxBytes)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only
	return io.ReadAll(f)
}

// OpenMax opens path for streaming after the same checks as ReadFileMax. The
// returned reader stops at maxBytes even if the file grows after the check.
func OpenMax(path string, maxBytes int64) (*LimitedFile, error) {
	if _, err := check(path, maxBytes); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	lf := &LimitedFile{f: f, r: f}
	if maxBytes > 0 {
		lf.r = io.LimitReader(f, maxBytes)
	}
	return lf, nil
}

// LimitedFile is a size-bounded read-only file.
type LimitedFile struct {
	f *os.File
	r io.Reader
}

func (l *LimitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }

// Close closes the underlying file.
func (l *LimitedFile) Close() error { return l.f.Close() }
