// Package upload spools client images to temporary files for the
// classifiers, which read from a path.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
	ErrEmpty           = errors.New("empty image")
)

var allowed = map[string]bool{
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".dcm":   true,
	".dicom": true,
}

// Extension returns the lower-cased extension of filename if it is an
// accepted image type.
func Extension(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowed[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, filename)
	}
	return ext, nil
}

// SaveTemp copies at most limit bytes of r into a temp file that keeps the
// original extension. The returned cleanup removes the file and is safe to
// call more than once.
func SaveTemp(r io.Reader, filename string, limit int64) (string, func(), error) {
	ext, err := Extension(filename)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "radiolens-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	case n == 0:
		cleanup()
		return "", nil, ErrEmpty
	case n > limit:
		cleanup()
		return "", nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return path, cleanup, nil
}
