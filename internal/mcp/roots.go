package mcp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// rootsRequestTimeout bounds the synchronous round-trip to the client.
const rootsRequestTimeout = 3 * time.Second

// rootsCache caches MCP roots per session ID. Roots do not change within a
// session, so one request per session is enough.
type rootsCache struct {
	mu    sync.RWMutex
	cache map[string][]mcplib.Root
}

func newRootsCache() *rootsCache {
	return &rootsCache{cache: make(map[string][]mcplib.Root)}
}

func (rc *rootsCache) Get(sessionID string) ([]mcplib.Root, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	roots, ok := rc.cache[sessionID]
	return roots, ok
}

func (rc *rootsCache) Set(sessionID string, roots []mcplib.Root) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache[sessionID] = roots
}

func sessionID(ctx context.Context) string {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return session.SessionID()
}

// requestRoots asks the client for its roots, caching per session. Returns
// nil on any error; clients without roots support are common.
func (s *Server) requestRoots(ctx context.Context) []mcplib.Root {
	id := sessionID(ctx)
	if id == "" {
		return nil
	}
	if roots, ok := s.rootsCache.Get(id); ok {
		return roots
	}

	reqCtx, cancel := context.WithTimeout(ctx, rootsRequestTimeout)
	defer cancel()
	result, err := s.mcpServer.RequestRoots(reqCtx, mcplib.ListRootsRequest{})
	if err != nil {
		s.logger.Debug("mcp: roots request failed (non-fatal)", "error", err, "session_id", id)
		s.rootsCache.Set(id, []mcplib.Root{})
		return nil
	}
	s.rootsCache.Set(id, result.Roots)
	return result.Roots
}

// rootDirs extracts local directories from file:// roots.
func rootDirs(roots []mcplib.Root) []string {
	var dirs []string
	for _, root := range roots {
		if !strings.HasPrefix(root.URI, "file://") {
			continue
		}
		parsed, err := url.Parse(root.URI)
		if err != nil {
			continue
		}
		p := filepath.Clean(filepath.FromSlash(parsed.Path))
		if p == "" || p == "." {
			continue
		}
		dirs = append(dirs, p)
	}
	return dirs
}

var errOutsideRoots = errors.New("path is outside the client's roots")

// resolveUploadPath maps an upload path given by the client to a local file.
// Relative paths resolve against the first root. When the client declared
// roots, the result must lie inside one of them both as written and, for a
// file that exists, after following symlinks; without roots any path is
// accepted as given.
func resolveUploadPath(dirs []string, p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	if len(dirs) == 0 {
		return filepath.Clean(p), nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dirs[0], p)
	}
	p = filepath.Clean(p)
	if !withinAny(dirs, p) {
		return "", fmt.Errorf("%w: %s", errOutsideRoots, p)
	}

	target, err := filepath.EvalSymlinks(p)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil // the caller's stat reports it
	}
	if err != nil {
		return "", err
	}
	realDirs := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if rd, err := filepath.EvalSymlinks(d); err == nil {
			d = rd
		}
		realDirs = append(realDirs, d)
	}
	if !withinAny(realDirs, target) {
		return "", fmt.Errorf("%w: %s links to %s", errOutsideRoots, p, target)
	}
	return p, nil
}

func withinAny(dirs []string, p string) bool {
	for _, d := range dirs {
		rel, err := filepath.Rel(d, p)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
