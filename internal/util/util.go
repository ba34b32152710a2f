package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// EnsureDir creates dir (and parents) if it is missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// Resolve joins rel onto base unless rel is already absolute or empty.
func Resolve(base, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(base, rel)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName turns an arbitrary label (gene symbol, contrast name) into a file name fragment.
func SafeName(s string) string {
	return unsafeName.ReplaceAllString(s, "_")
}
