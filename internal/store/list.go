package store

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// ListStores returns the case-store file names in dir, sorted. A missing
// directory yields an empty list rather than an error so a fresh deployment
// starts clean.
func ListStores(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
