package metadata

import (
	"path"
	"strings"
)

// RootPath is the remote filesystem root.
const RootPath RemotePath = "/"

// Resolver converts local, mount-relative paths into remote paths.
//
// A Resolver only holds immutable configuration (the remote root and the
// local mountpoint), so it is safe for concurrent use and every method is a
// pure function of its arguments.
type Resolver struct {
	root       RemotePath
	mountpoint string
}

// NewResolver creates a Resolver mapping the mount root onto remoteRoot.
//
// remoteRoot must be absolute; an empty value means "/". mountpoint is the
// local directory the filesystem is mounted on and may be empty when callers
// only pass mount-relative paths.
func NewResolver(remoteRoot, mountpoint string) (*Resolver, error) {
	if remoteRoot == "" {
		remoteRoot = "/"
	}
	if !strings.HasPrefix(remoteRoot, "/") {
		return nil, NewError(ErrInvalidPath, "resolve", RemotePath(remoteRoot), "remote root must be absolute")
	}
	if strings.ContainsRune(remoteRoot, 0) {
		return nil, NewError(ErrInvalidPath, "resolve", "", "remote root contains a NUL byte")
	}

	mp := mountpoint
	if mp != "" {
		mp = path.Clean(mp)
	}

	return &Resolver{
		root:       RemotePath(path.Clean(remoteRoot)),
		mountpoint: mp,
	}, nil
}

// Root returns the remote path the mount root maps to.
func (r *Resolver) Root() RemotePath {
	return r.root
}

// Resolve maps a local path to its remote path.
//
// Accepted forms:
//   - an absolute path under the mountpoint ("/mnt/hdfs/a/b")
//   - a mount-relative path as handed out by the kernel dispatcher ("a/b", "")
//   - an absolute path relative to the mount root ("/a/b")
//
// "." and ".." elements are collapsed. A path that climbs above the mount
// root, or that contains a NUL byte, is rejected with ErrInvalidPath.
func (r *Resolver) Resolve(local string) (RemotePath, error) {
	if strings.ContainsRune(local, 0) {
		return "", NewError(ErrInvalidPath, "resolve", "", "path contains a NUL byte")
	}

	rel := local
	if r.mountpoint != "" && r.mountpoint != "/" {
		if rel == r.mountpoint {
			rel = ""
		} else if strings.HasPrefix(rel, r.mountpoint+"/") {
			rel = rel[len(r.mountpoint):]
		}
	}

	parts, ok := collapse(rel)
	if !ok {
		return "", NewError(ErrInvalidPath, "resolve", RemotePath(local), "path escapes the mount root")
	}
	if len(parts) == 0 {
		return r.root, nil
	}

	return RemotePath(path.Join(string(r.root), strings.Join(parts, "/"))), nil
}

// Relative returns the mount-relative form of a remote path ("" for the
// mount root). The second result is false when p lies outside the root.
func (r *Resolver) Relative(p RemotePath) (string, bool) {
	if p == r.root {
		return "", true
	}
	if r.root == RootPath {
		return strings.TrimPrefix(string(p), "/"), strings.HasPrefix(string(p), "/")
	}
	prefix := string(r.root) + "/"
	if !strings.HasPrefix(string(p), prefix) {
		return "", false
	}
	return strings.TrimPrefix(string(p), prefix), true
}

// Parent returns the parent directory of p. The parent of the root is the
// root itself.
func Parent(p RemotePath) RemotePath {
	if p == "" || p == RootPath {
		return RootPath
	}
	return RemotePath(path.Dir(string(p)))
}

// Base returns the last element of p.
func Base(p RemotePath) string {
	if p == "" || p == RootPath {
		return "/"
	}
	return path.Base(string(p))
}

// Join appends a single child name to dir.
//
// name must be a plain directory entry: no slashes, no NUL bytes and
// neither "." nor "..".
func Join(dir RemotePath, name string) (RemotePath, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return "", NewError(ErrInvalidPath, "join", dir, "invalid entry name %q", name)
	}
	if dir == "" {
		dir = RootPath
	}
	return RemotePath(path.Join(string(dir), name)), nil
}

// IsAncestor reports whether ancestor is p itself or one of its parents.
func IsAncestor(ancestor, p RemotePath) bool {
	if ancestor == p || ancestor == RootPath {
		return true
	}
	return strings.HasPrefix(string(p), string(ancestor)+"/")
}

// collapse splits rel into clean elements. It returns false when ".."
// would climb above the first element.
func collapse(rel string) ([]string, bool) {
	var parts []string
	for _, elem := range strings.Split(rel, "/") {
		switch elem {
		case "", ".":
			continue
		case "..":
			if len(parts) == 0 {
				return nil, false
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, elem)
		}
	}
	return parts, true
}
