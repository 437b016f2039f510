// Package remote wraps the external file-operations tool used to list, copy and delete files
// on remote storage. The reconciliation logic only ever talks to the Remote interface.
package remote

import (
	"context"
	"time"
)

// Entry is one item of a recursive remote listing.
type Entry struct {
	Path     string    `json:"Path"`
	Name     string    `json:"Name"`
	Size     int64     `json:"Size"`
	MimeType string    `json:"MimeType"`
	ModTime  time.Time `json:"ModTime"`
	IsDir    bool      `json:"IsDir"`
}

type ListOptions struct {
	// MinSize skips objects smaller than this many bytes.
	MinSize int64
	// Include restricts the listing to paths matching these patterns.
	Include []string
}

type Lister interface {
	List(ctx context.Context, ep Endpoint, opts ListOptions) ([]Entry, error)
}

type Copier interface {
	// Copy transfers only the paths in allow from one endpoint to the other. When overwrite is
	// false, files already present at the target are left untouched.
	Copy(ctx context.Context, from, to Endpoint, allow []string, overwrite bool) error
}

type Deleter interface {
	// Delete removes a single file. Deleting a path that does not exist is not an error.
	Delete(ctx context.Context, ep Endpoint, path string) error
}

type Obscurer interface {
	Obscure(ctx context.Context, secret string) (string, error)
}

type Remote interface {
	Lister
	Copier
	Deleter
	Obscurer
}
