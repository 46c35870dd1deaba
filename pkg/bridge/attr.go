package bridge

import (
	"hash/fnv"
	"os"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"golang.org/x/sys/unix"
)

const (
	// minBlockSize is the smallest st_blksize reported. Remote block sizes
	// are far larger; small values make tools issue tiny reads.
	minBlockSize = 1 << 20

	// fallbackID is used when neither the remote name nor nobody/nogroup
	// resolve locally
	fallbackID = 65534
)

// Attr is the POSIX view of a remote entity.
type Attr struct {
	Ino     uint64
	Mode    uint32 // file type and permission bits (S_IFDIR | 0755)
	Size    uint64
	Blocks  uint64 // 512-byte units
	Blksize uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a *Attr) IsDir() bool {
	return a.Mode&unix.S_IFMT == unix.S_IFDIR
}

// Dirent is one entry returned by Readdir.
type Dirent struct {
	Name string
	Ino  uint64
	Mode uint32 // S_IFDIR or S_IFREG
}

// toAttr translates remote attributes. WebHDFS has no change time, so ctime
// follows mtime.
func (b *Bridge) toAttr(fa *metadata.FileAttr) *Attr {
	blksize := max(fa.BlockSize, minBlockSize)
	if blksize > 1<<31 {
		blksize = 1 << 31
	}

	return &Attr{
		Ino:     inodeNumber(fa),
		Mode:    typeBits(fa.Type) | posixPerm(fa.Mode),
		Size:    fa.Size,
		Blocks:  (fa.Size + 511) / 512,
		Blksize: uint32(blksize),
		Nlink:   max(fa.Children, 1),
		Uid:     b.ids.UID(fa.Owner),
		Gid:     b.ids.GID(fa.Group),
		Atime:   fa.Atime,
		Mtime:   fa.Mtime,
		Ctime:   fa.Mtime,
	}
}

func typeBits(t metadata.FileType) uint32 {
	switch t {
	case metadata.FileTypeDirectory:
		return unix.S_IFDIR
	case metadata.FileTypeSymlink:
		return unix.S_IFLNK
	default:
		return unix.S_IFREG
	}
}

// posixPerm converts permission bits (with the sticky bit) to mode bits.
func posixPerm(m os.FileMode) uint32 {
	perm := uint32(m.Perm())
	if m&os.ModeSticky != 0 {
		perm |= unix.S_ISVTX
	}
	return perm
}

// fileModePerm converts POSIX mode bits to permission bits. Only the
// permission and sticky bits are kept; setuid/setgid have no remote meaning.
func fileModePerm(mode uint32) os.FileMode {
	perm := os.FileMode(mode & 0o777)
	if mode&unix.S_ISVTX != 0 {
		perm |= os.ModeSticky
	}
	return perm
}

// inodeNumber returns the remote inode id, or a stable hash of the path when
// the server does not report one.
func inodeNumber(fa *metadata.FileAttr) uint64 {
	if fa.FileID != 0 {
		return fa.FileID
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(fa.Path))
	return h.Sum64()
}

// ============================================================================
// Identity Mapping
// ============================================================================

// IdentityMapper maps remote owner and group names to local uid/gid values.
//
// Lookups go through the local user database once per name and are cached.
// Unknown names map to nobody/nogroup.
type IdentityMapper struct {
	mu     sync.Mutex
	users  map[string]uint32
	groups map[string]uint32

	lookupUser  func(name string) (*user.User, error)
	lookupGroup func(name string) (*user.Group, error)
}

// NewIdentityMapper creates a mapper backed by the local user database.
func NewIdentityMapper() *IdentityMapper {
	return &IdentityMapper{
		users:       make(map[string]uint32),
		groups:      make(map[string]uint32),
		lookupUser:  user.Lookup,
		lookupGroup: user.LookupGroup,
	}
}

// UID returns the local uid for a remote owner name.
func (m *IdentityMapper) UID(owner string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.users[owner]; ok {
		return id
	}
	id, ok := m.uid(owner)
	if !ok {
		id, ok = m.uid("nobody")
	}
	if !ok {
		id = fallbackID
	}
	m.users[owner] = id
	return id
}

// GID returns the local gid for a remote group name.
func (m *IdentityMapper) GID(group string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.groups[group]; ok {
		return id
	}
	id, ok := m.gid(group)
	for _, fallback := range []string{"nogroup", "nobody"} {
		if ok {
			break
		}
		id, ok = m.gid(fallback)
	}
	if !ok {
		id = fallbackID
	}
	m.groups[group] = id
	return id
}

func (m *IdentityMapper) uid(name string) (uint32, bool) {
	if name == "" {
		return 0, false
	}
	u, err := m.lookupUser(name)
	if err != nil {
		return 0, false
	}
	return parseID(u.Uid)
}

func (m *IdentityMapper) gid(name string) (uint32, bool) {
	if name == "" {
		return 0, false
	}
	g, err := m.lookupGroup(name)
	if err != nil {
		return 0, false
	}
	return parseID(g.Gid)
}

func parseID(s string) (uint32, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
