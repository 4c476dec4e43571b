package toolregistry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathRejectsEscape(t *testing.T) {
	root := t.TempDir()
	ec := &ExecutionContext{WorkspaceRoot: root}

	if _, err := ec.ValidatePath("../../etc/passwd"); err == nil {
		t.Fatalf("expected escape to be rejected")
	}
}

func TestValidatePathAllowsWithinRoot(t *testing.T) {
	root := t.TempDir()
	ec := &ExecutionContext{WorkspaceRoot: root}

	resolved, err := ec.ValidatePath("sub/file.txt")
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	if filepath.Dir(resolved) != filepath.Join(root, "sub") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	ec := &ExecutionContext{WorkspaceRoot: root}
	if _, err := ec.ValidatePath("link"); err == nil {
		t.Fatalf("expected symlink escape to be rejected")
	}
}

func TestValidateURLRejectsPrivateHost(t *testing.T) {
	ec := &ExecutionContext{
		NetworkEnabled: true,
		NetworkAllow:   []string{"*.example.com", "169.254.169.254"},
	}
	if err := ec.ValidateURL("http://169.254.169.254/latest/meta-data"); err == nil {
		t.Fatalf("expected link-local metadata address to be rejected")
	}
}

func TestValidateURLAllowsMatchingWildcardDomain(t *testing.T) {
	ec := &ExecutionContext{
		NetworkEnabled: true,
		NetworkAllow:   []string{"*.example.com"},
	}
	if err := ec.ValidateURL("https://api.example.com/v1"); err != nil {
		t.Fatalf("expected wildcard domain to be allowed, got %v", err)
	}
}

func TestValidateURLDeniedWhenNetworkDisabled(t *testing.T) {
	ec := &ExecutionContext{NetworkEnabled: false}
	if err := ec.ValidateURL("https://example.com"); err == nil {
		t.Fatalf("expected disabled network to reject all URLs")
	}
}

func TestHostAllowedDotPrefixMatchesDomainAndSubdomains(t *testing.T) {
	patterns := []string{".example.com"}
	if !hostAllowed("example.com", patterns) {
		t.Fatalf("expected bare domain to match .example.com pattern")
	}
	if !hostAllowed("api.example.com", patterns) {
		t.Fatalf("expected subdomain to match .example.com pattern")
	}
	if hostAllowed("notexample.com", patterns) {
		t.Fatalf("did not expect notexample.com to match .example.com pattern")
	}
}
