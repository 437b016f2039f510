package remote

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

// EscapeGlob quotes glob metacharacters so the string matches itself. The escaping is
// understood by both rclone filter rules and doublestar.
func EscapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// AllowPattern turns a relative file path into a root-anchored filter rule matching
// exactly that file.
func AllowPattern(rel string) string {
	return "/" + EscapeGlob(strings.TrimPrefix(rel, "/"))
}

// ScopePattern matches everything below a scope directory.
func ScopePattern(scope string) string {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return "**"
	}
	return "/" + EscapeGlob(scope) + "/**"
}

// writeRulesFile writes one rule per line to a temporary file and returns its path.
func writeRulesFile(dir, prefix string, rules []string) (string, error) {
	f, err := os.CreateTemp(dir, prefix+"-*.txt")
	if err != nil {
		return "", fmt.Errorf("create rules file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rule := range rules {
		if _, err := w.WriteString(rule + "\n"); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("write rules file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("flush rules file: %w", err)
	}
	return f.Name(), nil
}
