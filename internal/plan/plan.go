// Package plan turns a classified diff into the deletes and copies a run has to perform.
package plan

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/reconcile"
)

type Side uint8

const (
	SideSource Side = iota
	SideDest
)

func (s Side) String() string {
	if s == SideSource {
		return "source"
	}
	return "dest"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Batch is a set of paths copied together. Scope is empty when no scopes are configured.
type Batch struct {
	Scope string   `json:"scope" yaml:"scope"`
	Paths []string `json:"paths" yaml:"paths"`
}

type Plan struct {
	// Deletes maps a path to the side it is removed from.
	Deletes map[string]Side `json:"deletes" yaml:"deletes"`
	Batches []Batch         `json:"batches" yaml:"batches"`
}

// Build derives the deletion plan and the copy batches from a diff. Every diff entry ends up
// in at most one of the two: a path scheduled for deletion is never copied.
func Build(diff reconcile.DiffMap, cfg *config.Config) *Plan {
	p := &Plan{Deletes: make(map[string]Side)}

	var copySet []string
	for _, path := range diff.Paths() {
		if side, ok := deletionSide(diff[path].Type, cfg.DeleteStrategy); ok {
			p.Deletes[path] = side
			continue
		}
		copySet = append(copySet, path)
	}

	p.Batches = partition(copySet, cfg.Scopes)
	return p
}

// deletionSide implements the deletion strategy: the authoritative side already lost the
// file, so it is removed from the other side too.
func deletionSide(t reconcile.ConflictType, strategy config.Strategy) (Side, bool) {
	switch {
	case strategy == config.StrategyMatchSource && t == reconcile.DeletedFromSource:
		return SideDest, true
	case strategy == config.StrategyMatchDest && t == reconcile.DeletedFromDest:
		return SideSource, true
	default:
		return 0, false
	}
}

// NormalizeScope renders a scope as "/scope/" so that prefix matching cannot confuse
// "reports" with "reports-old".
func NormalizeScope(scope string) string {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return "/"
	}
	return "/" + scope + "/"
}

// partition splits paths into one batch per scope. A path goes to the first scope that
// contains it; paths outside every scope are left out. Without scopes all paths form a
// single batch.
func partition(paths []string, scopes []string) []Batch {
	if len(paths) == 0 {
		return nil
	}
	if len(scopes) == 0 {
		return []Batch{{Paths: paths}}
	}

	assigned := mapset.NewThreadUnsafeSet[string]()
	var batches []Batch
	for _, scope := range scopes {
		prefix := NormalizeScope(scope)
		var members []string
		for _, p := range paths {
			if assigned.Contains(p) {
				continue
			}
			if strings.HasPrefix("/"+strings.TrimPrefix(p, "/"), prefix) {
				members = append(members, p)
				assigned.Add(p)
			}
		}
		if len(members) > 0 {
			batches = append(batches, Batch{Scope: strings.Trim(scope, "/"), Paths: members})
		}
	}
	return batches
}

// CopySet is every path that appears in a batch.
func (p *Plan) CopySet() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, b := range p.Batches {
		set.Append(b.Paths...)
	}
	return set
}

// DeleteSet is every path scheduled for deletion.
func (p *Plan) DeleteSet() mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(p.Deletes))
	for path := range p.Deletes {
		set.Add(path)
	}
	return set
}

// DeletePaths returns the deletions in lexical order.
func (p *Plan) DeletePaths() []string {
	paths := make([]string, 0, len(p.Deletes))
	for path := range p.Deletes {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

func (p *Plan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Batches) == 0
}
