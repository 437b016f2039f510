package reconcile

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/remotesync/internal/remote"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Listing maps a relative path to the file found there.
type Listing map[string]FileRecord

// Filter drops paths before they are diffed. A nil Filter keeps everything.
type Filter struct {
	ignore  *gitignore.GitIgnore
	include []string
}

// NewFilter builds a filter from gitignore-style ignore lines and doublestar include
// patterns. With no include patterns every non-ignored path is kept.
func NewFilter(ignoreLines, include []string) (*Filter, error) {
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	f := &Filter{include: include}
	if len(ignoreLines) > 0 {
		f.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
	}
	return f, nil
}

// ScopeIncludes returns the include patterns that restrict a listing to the given scopes.
// Scope names are literal directories, so glob characters in them are escaped.
func ScopeIncludes(scopes []string) []string {
	patterns := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		patterns = append(patterns, remote.EscapeGlob(s)+"/**")
	}
	return patterns
}

// Keep reports whether the relative path survives the filter.
func (f *Filter) Keep(rel string) bool {
	if f == nil {
		return true
	}
	if f.ignore != nil && f.ignore.MatchesPath(rel) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Normalize turns a raw recursive listing into a Listing. Directories are skipped: they are
// never diffed or transferred on their own.
func Normalize(entries []remote.Entry, filter *Filter) (Listing, error) {
	listing := make(Listing, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		rel, err := cleanPath(e.Path)
		if err != nil {
			return nil, err
		}
		if e.Size < 0 {
			return nil, fmt.Errorf("entry %q: negative size %d", e.Path, e.Size)
		}
		if !filter.Keep(rel) {
			continue
		}
		listing[rel] = FileRecord{Size: e.Size, ModTime: e.ModTime}
	}
	return listing, nil
}

func cleanPath(p string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	if rel == "" {
		return "", fmt.Errorf("entry %q: empty path", p)
	}
	return rel, nil
}
