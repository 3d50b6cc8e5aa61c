package utils

import (
	"errors"
	"os"
)

// EnsureDirs creates each directory (and parents) if absent.
func EnsureDirs(dirs ...string) error {
	var errs []error
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanSubdirs returns the names of all subdirectories of dir.
// Missing dirs yield nil.
func ScanSubdirs(dir string) []string {
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
