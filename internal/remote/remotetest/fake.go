// Package remotetest provides an in-memory Remote for tests.
package remotetest

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openmined/remotesync/internal/remote"
)

type File struct {
	Size    int64
	ModTime time.Time
}

type CopyCall struct {
	From, To  string
	Allow     []string
	Overwrite bool
}

type DeleteCall struct {
	Endpoint string
	Path     string
}

// Fake keeps one file tree per endpoint string and applies copies and deletes to them, so a
// test can run several reconciliations in a row against the same state.
type Fake struct {
	mu    sync.Mutex
	trees map[string]map[string]File

	Copies  []CopyCall
	Deletes []DeleteCall

	ListErr   map[string]error
	CopyErr   func(from, to string, allow []string) error
	DeleteErr map[string]error
}

func New() *Fake {
	return &Fake{
		trees:     map[string]map[string]File{},
		ListErr:   map[string]error{},
		DeleteErr: map[string]error{},
	}
}

// Put places a file on an endpoint.
func (f *Fake) Put(ep remote.Endpoint, rel string, size int64, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tree(ep.String())[strings.TrimPrefix(rel, "/")] = File{Size: size, ModTime: modTime}
}

// Tree returns a copy of the files held by an endpoint.
func (f *Fake) Tree(ep remote.Endpoint) map[string]File {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]File{}
	for k, v := range f.tree(ep.String()) {
		out[k] = v
	}
	return out
}

func (f *Fake) tree(ep string) map[string]File {
	t, ok := f.trees[ep]
	if !ok {
		t = map[string]File{}
		f.trees[ep] = t
	}
	return t
}

func (f *Fake) List(_ context.Context, ep remote.Endpoint, opts remote.ListOptions) ([]remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ListErr[ep.String()]; err != nil {
		return nil, &remote.ListingError{Endpoint: ep.String(), Err: err}
	}

	dirs := map[string]struct{}{}
	var entries []remote.Entry
	for p, file := range f.tree(ep.String()) {
		if file.Size < opts.MinSize {
			continue
		}
		entries = append(entries, remote.Entry{
			Path:    p,
			Name:    path.Base(p),
			Size:    file.Size,
			ModTime: file.ModTime,
		})
		for d := path.Dir(p); d != "." && d != "/"; d = path.Dir(d) {
			dirs[d] = struct{}{}
		}
	}
	for d := range dirs {
		entries = append(entries, remote.Entry{Path: d, Name: path.Base(d), Size: -1, IsDir: true})
	}
	slices.SortFunc(entries, func(a, b remote.Entry) int { return strings.Compare(a.Path, b.Path) })
	return entries, nil
}

func (f *Fake) Copy(_ context.Context, from, to remote.Endpoint, allow []string, overwrite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Copies = append(f.Copies, CopyCall{From: from.String(), To: to.String(), Allow: slices.Clone(allow), Overwrite: overwrite})
	if f.CopyErr != nil {
		if err := f.CopyErr(from.String(), to.String(), allow); err != nil {
			return err
		}
	}

	src := f.tree(from.String())
	dst := f.tree(to.String())
	for _, p := range allow {
		p = strings.TrimPrefix(p, "/")
		file, ok := src[p]
		if !ok {
			continue
		}
		if _, exists := dst[p]; exists && !overwrite {
			continue
		}
		dst[p] = file
	}
	return nil
}

func (f *Fake) Delete(_ context.Context, ep remote.Endpoint, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Deletes = append(f.Deletes, DeleteCall{Endpoint: ep.String(), Path: p})
	if err := f.DeleteErr[p]; err != nil {
		return err
	}
	delete(f.tree(ep.String()), strings.TrimPrefix(p, "/"))
	return nil
}

func (f *Fake) Obscure(_ context.Context, secret string) (string, error) {
	return fmt.Sprintf("obscured(%d)", len(secret)), nil
}

var _ remote.Remote = (*Fake)(nil)
