// Package reconcile merges the listings of two file trees and classifies every path that
// differs between them.
package reconcile

import (
	"fmt"
	"slices"
	"time"
)

type ConflictType uint8

var conflictTypeNames = []string{
	"unset",
	"added",
	"deleted_from_source",
	"deleted_from_dest",
	"size_different",
}

const (
	Unset ConflictType = iota
	// Added is a one-sided file that is new since the last sync, or seen for the first time.
	Added
	// DeletedFromSource is a destination-only file that predates the last sync.
	DeletedFromSource
	// DeletedFromDest is a source-only file that predates the last sync.
	DeletedFromDest
	// SizeDifferent is a file present on both sides with different sizes.
	SizeDifferent
)

func (c ConflictType) String() string {
	if int(c) < len(conflictTypeNames) {
		return conflictTypeNames[c]
	}
	return fmt.Sprintf("ConflictType(%d)", uint8(c))
}

func (c ConflictType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// IsDeletion reports whether the type says one side lost the file.
func (c ConflictType) IsDeletion() bool {
	return c == DeletedFromSource || c == DeletedFromDest
}

// FileRecord is the observed state of one regular file on one side.
type FileRecord struct {
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"modTime" yaml:"modTime"`
}

// DiffEntry is one path that differs between the two sides. A nil Src or Dst means the file
// is absent on that side.
type DiffEntry struct {
	Path string       `json:"path" yaml:"path"`
	Src  *FileRecord  `json:"src,omitempty" yaml:"src,omitempty"`
	Dst  *FileRecord  `json:"dst,omitempty" yaml:"dst,omitempty"`
	Type ConflictType `json:"type" yaml:"type"`
}

// DiffMap is keyed by relative slash-separated path.
type DiffMap map[string]*DiffEntry

// Paths returns the keys in lexical order.
func (d DiffMap) Paths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Counts returns the number of entries per conflict type.
func (d DiffMap) Counts() map[ConflictType]int {
	counts := make(map[ConflictType]int)
	for _, e := range d {
		counts[e.Type]++
	}
	return counts
}

// Bytes is the total size of the records that would be transferred for the entries.
func (d DiffMap) Bytes() int64 {
	var total int64
	for _, e := range d {
		switch {
		case e.Src != nil && e.Dst != nil:
			total += max(e.Src.Size, e.Dst.Size)
		case e.Src != nil:
			total += e.Src.Size
		case e.Dst != nil:
			total += e.Dst.Size
		}
	}
	return total
}

// Watermark is the time of the last sync that did real work. Valid is false when no sync
// has ever completed.
type Watermark struct {
	Time  time.Time
	Valid bool
}
