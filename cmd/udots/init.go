package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/creatiox/udots/examples"
)

// runInit writes the example udots.yaml into dir. An existing file is
// left untouched.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, "udots.yaml")
	written, err := writeIfMissing(path, examples.ConfigYAML, 0o600)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(w, "Wrote %s\n", path)
	} else {
		fmt.Fprintf(w, "%s already exists, left unchanged\n", path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set UBIDOTS_TOKEN (or edit the token) and run: udots run")
	return nil
}

// writeIfMissing creates path with content unless it exists. The file
// holds the broker token, so callers pass a restrictive mode.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, f.Close()
}
