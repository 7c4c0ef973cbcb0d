// Package pathcap validates guest-relative paths before any filesystem
// operation touches the host, guaranteeing the resolved real path cannot
// escape the roots it was granted against.
package pathcap

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// GuestMountPrefix is the path under which the work directory is preopened
// to the guest; inputs carrying this prefix are treated as guest-absolute.
const GuestMountPrefix = "/work"

// ErrTraversal is returned (wrapped) whenever a path fails containment.
type ErrTraversal struct {
	Input  string
	Reason string
}

func (e *ErrTraversal) Error() string {
	return fmt.Sprintf("traversal: %q %s", e.Input, e.Reason)
}

// Root is one directory the validator may resolve paths against.
type Root struct {
	// GuestPath is the prefix an input must carry (after lexical cleaning)
	// to be resolved against this root instead of the default WD root.
	// Empty GuestPath marks the default / WD root.
	GuestPath string
	RealPath  string // canonicalized host directory
	Writable  bool
}

// Validator resolves guest-visible paths into real host paths, rejecting
// anything that would resolve outside its configured roots.
type Validator struct {
	wd    Root
	extra []Root
}

// New canonicalizes wd and every extra root up front so later validation is
// pure comparison, never a fresh syscall against an attacker-influenced
// value for the root itself.
func New(wd string, extra []Root) (*Validator, error) {
	realWD, err := filepath.EvalSymlinks(wd)
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}
	v := &Validator{wd: Root{RealPath: filepath.Clean(realWD), Writable: true}}
	for _, r := range extra {
		real, err := filepath.EvalSymlinks(r.RealPath)
		if err != nil {
			return nil, fmt.Errorf("resolving mount %s: %w", r.GuestPath, err)
		}
		r.RealPath = filepath.Clean(real)
		v.extra = append(v.extra, r)
	}
	return v, nil
}

// Validate resolves input (guest-relative, guest-absolute under
// GuestMountPrefix, or an extra mount's guest path) to a real host path
// that is provably contained in one of the validator's roots.
//
// Writes (requireWritable true) additionally fail if the containing root is
// read-only, even when WASI itself would have allowed the syscall — belt
// and braces against a symlink escape inside a read-only mount.
func (v *Validator) Validate(input string, requireWritable bool) (string, error) {
	if strings.IndexByte(input, 0) >= 0 {
		return "", &ErrTraversal{Input: input, Reason: "contains a NUL byte"}
	}

	root, rel := v.selectRoot(input)

	if input == "" || input == root.GuestPath {
		rel = ""
	}

	// Cheap lexical rejection before touching the filesystem at all.
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return "", &ErrTraversal{Input: input, Reason: "contains .."}
		}
	}

	if requireWritable && !root.Writable {
		return "", &ErrTraversal{Input: input, Reason: "root is read-only"}
	}

	joined := filepath.Join(root.RealPath, rel)
	resolved := resolveLongestExisting(joined)

	if !isContained(resolved, root.RealPath) {
		return "", &ErrTraversal{Input: input, Reason: "resolves outside its root"}
	}
	return resolved, nil
}

// selectRoot picks which configured root an input addresses and returns the
// remaining guest-relative suffix.
func (v *Validator) selectRoot(input string) (Root, string) {
	for _, r := range v.extra {
		if r.GuestPath == "" {
			continue
		}
		if input == r.GuestPath {
			return r, ""
		}
		if strings.HasPrefix(input, r.GuestPath+"/") {
			return r, strings.TrimPrefix(input, r.GuestPath+"/")
		}
	}
	rel := strings.TrimPrefix(input, GuestMountPrefix)
	rel = strings.TrimPrefix(rel, "/")
	return v.wd, rel
}

// resolveLongestExisting canonicalizes the deepest existing ancestor of
// path (following every symlink) and rejoins the non-existing suffix
// lexically, so a write to a not-yet-created file still gets the symlink
// check applied to everything that does exist.
func resolveLongestExisting(path string) string {
	clean := filepath.Clean(path)
	if real, err := filepath.EvalSymlinks(clean); err == nil {
		return real
	}
	dir := filepath.Dir(clean)
	if dir == clean {
		return clean
	}
	return filepath.Join(resolveLongestExisting(dir), filepath.Base(clean))
}

// normalizeForCompare applies the host OS's own equality rule: Windows and
// macOS default filesystems are case-insensitive, Linux is not. Exact
// canonicalization quirks (Windows long paths, etc.) are left to the OS
// call inside resolveLongestExisting; this only affects the final compare.
func normalizeForCompare(p string) string {
	p = filepath.Clean(p)
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(p)
	}
	return p
}

func isContained(resolved, root string) bool {
	resolved = normalizeForCompare(resolved)
	root = normalizeForCompare(root)
	if resolved == root {
		return true
	}
	return strings.HasPrefix(resolved, root+string(filepath.Separator))
}
