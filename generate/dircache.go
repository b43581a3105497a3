package generate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jellydator/ttlcache/v3"
)

// DirContext holds project context for one workspace.
type DirContext struct {
	Root           string            // git root, or the workspace itself
	Listing        string            // top-level entries, space-separated
	Manifests      map[string]string // manifest label -> extracted content
	PackageManager string            // detected from lockfile
}

const (
	dirCacheTTL      = 10 * time.Minute
	gatherTimeout    = 5 * time.Second
	manifestMaxBytes = 512
	fieldMaxBytes    = 512
	maxDependencies  = 24
)

// DirCache is a TTL cache of DirContext entries keyed by absolute path.
type DirCache struct {
	cache *ttlcache.Cache[string, *DirContext]
}

// NewDirCache creates a new DirCache with TTL-based expiration.
func NewDirCache() *DirCache {
	c := ttlcache.New[string, *DirContext](
		ttlcache.WithTTL[string, *DirContext](dirCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *DirContext](),
	)
	go c.Start()
	return &DirCache{cache: c}
}

// Close stops the cache expiration loop.
func (dc *DirCache) Close() {
	dc.cache.Stop()
}

// Get returns the cached DirContext for the given path, or nil if not cached/expired.
func (dc *DirCache) Get(absPath string) *DirContext {
	item := dc.cache.Get(absPath)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Gather collects project context for the workspace at dir and caches it.
func (dc *DirCache) Gather(ctx context.Context, dir string) *DirContext {
	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	root := strings.TrimSpace(runCmd(ctx, dir, "git", "rev-parse", "--show-toplevel"))
	if root == "" {
		root = dir
	}

	entry := &DirContext{
		Root:           root,
		Listing:        listDir(root),
		Manifests:      make(map[string]string),
		PackageManager: detectPackageManager(dir, root),
	}
	gatherManifests(root, entry.Manifests)
	if root != dir {
		gatherManifests(dir, entry.Manifests)
	}

	dc.cache.Set(dir, entry, ttlcache.DefaultTTL)
	slog.Debug("gathered workspace context", "path", dir, "root", root, "manifests", len(entry.Manifests))
	return entry
}

// runCmd runs a command and returns its stdout, or empty string on error.
func runCmd(ctx context.Context, dir string, name string, args ...string) string {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// listDir returns the visible top-level entries of dir, directories suffixed
// with a slash.
func listDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return truncate(strings.Join(names, " "), fieldMaxBytes)
}

// manifestFiles maps manifest filenames to their extractors.
var manifestFiles = []struct {
	name    string
	label   string
	extract func(string) string
}{
	{"go.mod", "go.mod", extractGoModInfo},
	{"package.json", "package.json dependencies", extractPackageJSONDeps},
	{"Cargo.toml", "Cargo.toml", extractCargoInfo},
	{"pyproject.toml", "pyproject.toml", extractPyprojectInfo},
}

func gatherManifests(dir string, out map[string]string) {
	for _, m := range manifestFiles {
		if _, exists := out[m.label]; exists {
			continue
		}
		path := filepath.Join(dir, m.name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if extracted := m.extract(string(data)); extracted != "" {
			out[m.label] = extracted
		}
	}
}

// extractPackageJSONDeps lists dependency names from package.json, runtime
// dependencies first.
func extractPackageJSONDeps(content string) string {
	var pkg struct {
		Name            string            `json:"name"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return ""
	}
	names := append(sortedKeys(pkg.Dependencies), sortedKeys(pkg.DevDependencies)...)
	return truncate(strings.Join(capList(names, maxDependencies), ", "), manifestMaxBytes)
}

type cargoToml struct {
	Package struct {
		Name    string `toml:"name"`
		Edition string `toml:"edition"`
	} `toml:"package"`
	Dependencies map[string]any `toml:"dependencies"`
}

// extractCargoInfo extracts the crate name, edition and dependency names from Cargo.toml.
func extractCargoInfo(content string) string {
	var cargo cargoToml
	if _, err := toml.Decode(content, &cargo); err != nil {
		return ""
	}
	var parts []string
	if cargo.Package.Name != "" {
		parts = append(parts, fmt.Sprintf(`name = "%s"`, cargo.Package.Name))
	}
	if cargo.Package.Edition != "" {
		parts = append(parts, fmt.Sprintf(`edition = "%s"`, cargo.Package.Edition))
	}
	if deps := capList(sortedKeys(cargo.Dependencies), maxDependencies); len(deps) > 0 {
		parts = append(parts, "deps: "+strings.Join(deps, " "))
	}
	return truncate(strings.Join(parts, ", "), manifestMaxBytes)
}

// extractGoModInfo extracts the module path, Go version and required modules from go.mod.
func extractGoModInfo(content string) string {
	var parts, requires []string
	inRequire := false
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case inRequire && line == ")":
			inRequire = false
		case inRequire:
			if f := strings.Fields(line); len(f) >= 2 && !strings.HasSuffix(line, "// indirect") {
				requires = append(requires, f[0])
			}
		case line == "require (":
			inRequire = true
		case strings.HasPrefix(line, "require "):
			if f := strings.Fields(line); len(f) >= 3 {
				requires = append(requires, f[1])
			}
		case strings.HasPrefix(line, "module "):
			parts = append(parts, line)
		case strings.HasPrefix(line, "go ") && !strings.HasPrefix(line, "go."):
			parts = append(parts, line)
		}
	}
	if reqs := capList(requires, maxDependencies); len(reqs) > 0 {
		parts = append(parts, "requires: "+strings.Join(reqs, " "))
	}
	return truncate(strings.Join(parts, ", "), manifestMaxBytes)
}

type pyprojectToml struct {
	Project struct {
		Name         string   `toml:"name"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
}

// extractPyprojectInfo extracts the project name and dependencies from pyproject.toml.
func extractPyprojectInfo(content string) string {
	var pyproject pyprojectToml
	if _, err := toml.Decode(content, &pyproject); err != nil {
		return ""
	}
	var parts []string
	if pyproject.Project.Name != "" {
		parts = append(parts, fmt.Sprintf(`name = "%s"`, pyproject.Project.Name))
	}
	if deps := capList(pyproject.Project.Dependencies, maxDependencies); len(deps) > 0 {
		parts = append(parts, "deps: "+strings.Join(deps, " "))
	}
	return truncate(strings.Join(parts, ", "), manifestMaxBytes)
}

// lockfileMap maps lockfile names to package manager names.
// Ordered by priority (more specific lockfiles first).
var lockfileMap = []struct {
	file    string
	manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"package-lock.json", "npm"},
	{"Cargo.lock", "cargo"},
	{"go.sum", "go"},
	{"uv.lock", "uv"},
	{"poetry.lock", "poetry"},
}

// detectPackageManager detects the package manager from lockfile presence.
// Checks the workspace first, then its root.
func detectPackageManager(dir, root string) string {
	for _, d := range []string{dir, root} {
		if d == "" {
			continue
		}
		for _, lf := range lockfileMap {
			if _, err := os.Stat(filepath.Join(d, lf.file)); err == nil {
				return lf.manager
			}
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func capList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// truncate truncates s to maxBytes, appending "..." if truncated.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "..."
}
