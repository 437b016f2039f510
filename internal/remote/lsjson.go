package remote

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ParseListing decodes the output of `rclone lsjson`.
func ParseListing(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	for i, e := range entries {
		if e.Path == "" {
			return nil, fmt.Errorf("entry %d: empty path", i)
		}
		// directories are reported with size -1
		if !e.IsDir && e.Size < 0 {
			return nil, fmt.Errorf("entry %q: negative size %d", e.Path, e.Size)
		}
	}
	return entries, nil
}
