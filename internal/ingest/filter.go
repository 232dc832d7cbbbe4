package ingest

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// boilerplateNames are repository housekeeping documents that carry no
// knowledge about the code. Matched against the basename without extension,
// case-insensitively.
var boilerplateNames = map[string]bool{
	"readme": true, "license": true, "licence": true, "changelog": true,
	"contributing": true, "code_of_conduct": true, "security": true,
	"funding": true, "support": true, "authors": true, "contributors": true,
	"history": true, "upgrading": true, "todo": true, "issue_template": true,
	"pull_request_template": true, "notice": true, "codeowners": true,
}

// denyBasenames are matched exactly against the basename.
var denyBasenames = map[string]bool{
	".gitignore": true, ".gitattributes": true, ".dockerignore": true,
	".npmrc": true, ".DS_Store": true,
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"go.sum": true, "Cargo.lock": true, "Gemfile.lock": true,
	"composer.lock": true, "poetry.lock": true, "Pipfile.lock": true,
	"bun.lockb": true, "mix.lock": true, "flake.lock": true,
}

// binaryExts are never worth summarising.
var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".webp": true, ".bmp": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true, ".otf": true, ".mp3": true, ".mp4": true,
	".wav": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".tgz": true, ".jar": true, ".exe": true, ".dll": true, ".so": true,
	".dylib": true, ".bin": true, ".wasm": true, ".pyc": true, ".class": true,
	".o": true, ".a": true, ".lock": true, ".map": true,
}

// DefaultIgnorePatterns are doublestar globs matched against the full path.
var DefaultIgnorePatterns = []string{
	"**/node_modules/**",
	"**/vendor/**",
	"**/.git/**",
	"**/dist/**",
	"**/build/**",
	"**/.next/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/coverage/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/*.snap",
	"**/.env",
	"**/.env.*",
}

// Filter decides which repository paths are worth ingesting.
type Filter struct {
	patterns []string
}

// NewFilter builds a filter from the default patterns plus extra ones.
func NewFilter(extra ...string) (*Filter, error) {
	patterns := make([]string, 0, len(DefaultIgnorePatterns)+len(extra))
	patterns = append(patterns, DefaultIgnorePatterns...)
	for _, p := range extra {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		patterns = append(patterns, p)
	}
	return &Filter{patterns: patterns}, nil
}

// Include reports whether p should be loaded.
func (f *Filter) Include(p string) bool {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return false
	}

	base := path.Base(p)
	if denyBasenames[base] {
		return false
	}
	ext := strings.ToLower(path.Ext(base))
	if binaryExts[ext] {
		return false
	}
	stem := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
	if boilerplateNames[stem] {
		return false
	}

	for _, pattern := range f.patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return false
		}
	}
	return true
}
