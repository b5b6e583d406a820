package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const fallbackName = "document.pdf"

// cleanName reduces an uploaded file name to a bare base name. Directory
// parts from either separator style are dropped.
func cleanName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return fallbackName
	}
	return base
}

// uniquePath returns dir/name, or dir/<stem>_N<ext> for the smallest N >= 1
// that does not exist yet.
func uniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		_, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("ingestion: stat %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}

// writeUnique stores data under dir without overwriting an existing file
// and returns the path written.
func writeUnique(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ingestion: create %s: %w", dir, err)
	}
	path, err := uniquePath(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("ingestion: write %s: %w", path, err)
	}
	return path, nil
}
