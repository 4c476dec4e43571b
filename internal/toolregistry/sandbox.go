package toolregistry

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/nexus/internal/net/ssrf"
	"github.com/haasonsaas/nexus/internal/permission"
	"github.com/haasonsaas/nexus/internal/processmgr"
)

// ToolState is the shared, inner-locked handle to a session's todos/plan
// and compact history that tools (TodoWrite, ExitPlanMode, Task) read and
// write. It is defined here rather than in sessionstore because the
// Execution Context, not the Store, is what tools see.
type ToolState interface {
	// Session-scoped; concrete implementation wraps sessionstore.Store.
}

// ExecutionContext carries everything a Tool.Execute call needs beyond its
// own input: the sandboxed working root, the network policy, the
// permission policy already resolved for this invocation, and handles on
// shared Tool State and the Process Manager.
type ExecutionContext struct {
	SessionID     string
	WorkspaceRoot string // canonicalized

	NetworkEnabled bool
	NetworkAllow   []string // "*.example.com" / ".example.com" domain patterns

	Permission *permission.Engine
	Processes  *processmgr.Manager
	State      ToolState

	MaxOutputBytes int
	MaxSymlinkDepth int
}

// DefaultMaxSymlinkDepth caps symlink resolution before ValidatePath gives
// up and rejects the path, matching the security validation step of
// spec §4.5.3.
const DefaultMaxSymlinkDepth = 8

// ValidatePath canonicalizes path relative to the execution context's
// workspace root and rejects anything that escapes it, including via
// symlinks (capped at MaxSymlinkDepth hops).
func (ec *ExecutionContext) ValidatePath(path string) (string, error) {
	root, err := filepath.Abs(ec.WorkspaceRoot)
	if err != nil {
		return "", fmt.Errorf("sandbox: resolve workspace root: %w", err)
	}
	root = filepath.Clean(root)

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	depth := ec.MaxSymlinkDepth
	if depth <= 0 {
		depth = DefaultMaxSymlinkDepth
	}
	resolved := candidate
	for i := 0; i < depth; i++ {
		link, err := os.Readlink(resolved)
		if err != nil {
			break // not a symlink (or doesn't exist yet) — fine
		}
		if !filepath.IsAbs(link) {
			link = filepath.Join(filepath.Dir(resolved), link)
		}
		resolved = filepath.Clean(link)
	}

	if !withinRoot(root, resolved) || !withinRoot(root, candidate) {
		return "", fmt.Errorf("sandbox: path %q escapes workspace root %q", path, root)
	}
	return candidate, nil
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") )
}

// ValidateURL checks rawURL against the network sandbox: network access
// must be enabled, the scheme must be http(s), the host must match an
// allow pattern, and the resolved address must not be a private/internal
// IP (SSRF protection), reusing the teacher's ssrf package.
func (ec *ExecutionContext) ValidateURL(rawURL string) error {
	if !ec.NetworkEnabled {
		return fmt.Errorf("sandbox: network access disabled")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("sandbox: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sandbox: unsupported scheme %q", u.Scheme)
	}
	if !hostAllowed(u.Hostname(), ec.NetworkAllow) {
		return fmt.Errorf("sandbox: host %q not in network allowlist", u.Hostname())
	}
	if err := ssrf.ValidatePublicHostname(u.Hostname()); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	return nil
}

// hostAllowed matches host against domain-pattern entries: "*.example.com"
// matches any subdomain, ".example.com" matches the domain and any
// subdomain, and an exact entry matches only itself.
func hostAllowed(host string, patterns []string) bool {
	for _, p := range patterns {
		switch {
		case strings.HasPrefix(p, "*."):
			suffix := p[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) {
				return true
			}
		case strings.HasPrefix(p, "."):
			if host == p[1:] || strings.HasSuffix(host, p) {
				return true
			}
		default:
			if host == p {
				return true
			}
		}
	}
	return false
}
