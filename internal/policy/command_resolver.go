package policy

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// CommandResolution is the result of resolving a command name to a
// filesystem path.
type CommandResolution struct {
	Command      string
	ResolvedPath string
	Found        bool
	SearchPaths  []string
}

// CommandResolver resolves shell command names to filesystem paths with an
// internal cache, tracking hit/miss counters for observability. Safe for
// concurrent use.
type CommandResolver struct {
	mu      sync.Mutex
	cache   map[string]CommandResolution
	hits    int
	misses  int
	logger  *zap.Logger
}

// NewCommandResolver builds an empty-cache CommandResolver.
func NewCommandResolver(logger *zap.Logger) *CommandResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandResolver{cache: make(map[string]CommandResolution), logger: logger}
}

// Resolve extracts the base command (the first whitespace-separated token)
// from cmd and looks up its path in PATH, caching the result.
func (r *CommandResolver) Resolve(cmd string) CommandResolution {
	base := cmd
	if fields := strings.Fields(cmd); len(fields) > 0 {
		base = fields[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[base]; ok {
		r.hits++
		return cached
	}
	r.misses++

	searchPaths := splitPath()
	resolution := CommandResolution{Command: base, SearchPaths: searchPaths}
	if path, err := exec.LookPath(base); err == nil {
		resolution.ResolvedPath = path
		resolution.Found = true
	} else {
		r.logger.Warn("command not found in PATH", zap.String("command", base))
	}

	r.cache[base] = resolution
	return resolution
}

// CacheStats returns (hits, misses) since the resolver's creation or last Clear.
func (r *CommandResolver) CacheStats() (hits, misses int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits, r.misses
}

// Clear empties the resolution cache.
func (r *CommandResolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]CommandResolution)
}

func splitPath() []string {
	raw := os.Getenv("PATH")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, string(os.PathListSeparator))
}
