// Package webhdfstest provides an in-memory WebHDFS server for tests.
//
// The server speaks the subset of the REST protocol used by the mount,
// including the namenode-to-datanode redirect of OPEN, CREATE and APPEND. It
// counts requests per operation and can inject faults, which lets tests
// observe cache hits and retry behavior from the outside.
package webhdfstest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	namenodePrefix = "/webhdfs/v1"
	datanodePrefix = "/datanode/webhdfs/v1"
)

// Phase selects which hop of a redirected operation a fault applies to.
type Phase int

const (
	// PhaseNamenode is the metadata request (or phase 1 of a redirect)
	PhaseNamenode Phase = iota

	// PhaseDatanode is the data transfer of OPEN, CREATE and APPEND
	PhaseDatanode
)

// Fault describes an injected failure.
type Fault struct {
	// Status is the HTTP status to answer with (ignored when Drop is set)
	Status int

	// Exception is the RemoteException class name in the body (optional)
	Exception string

	// Message is the RemoteException message (optional)
	Message string

	// Drop closes the connection without an answer
	Drop bool

	// ApplyFirst performs the operation before failing. Combined with Drop
	// it simulates a lost acknowledgment.
	ApplyFirst bool

	// Times is how many requests the fault applies to (0 = once)
	Times int
}

type faultKey struct {
	op    string
	phase Phase
}

type node struct {
	dir   bool
	data  []byte
	perm  uint32
	owner string
	group string
	mtime int64
	atime int64
	id    int64
}

// Server is an in-memory WebHDFS namenode and datanode.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	nodes      map[string]*node
	nextID     int64
	counts     map[string]int
	dataCounts map[string]int
	faults     map[faultKey][]Fault

	basicUser, basicPass string
	bearerToken          string
	relativeRedirect     bool
	noRenameOptions      bool
}

// NewServer starts a server with an empty root directory. The server is
// closed when the test ends.
func NewServer(t interface {
	Helper()
	Cleanup(func())
}) *Server {
	t.Helper()

	s := &Server{
		nodes:      make(map[string]*node),
		nextID:     16386,
		counts:     make(map[string]int),
		dataCounts: make(map[string]int),
		faults:     make(map[faultKey][]Fault),
	}
	s.nodes["/"] = s.newNode(true, 0o755)

	mux := http.NewServeMux()
	mux.HandleFunc(datanodePrefix+"/", s.serveDatanode)
	mux.HandleFunc(namenodePrefix+"/", s.serveNamenode)
	mux.HandleFunc(namenodePrefix, s.serveNamenode)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// BaseURL returns the REST endpoint URL (with the /webhdfs/v1 prefix).
func (s *Server) BaseURL() string {
	return s.URL + namenodePrefix
}

// RequireBasicAuth makes every request require the given credentials.
func (s *Server) RequireBasicAuth(user, pass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.basicUser, s.basicPass = user, pass
}

// RequireBearerToken makes every request require the given token.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearerToken = token
}

// UseRelativeRedirects makes phase-1 answers carry a relative Location.
func (s *Server) UseRelativeRedirects(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relativeRedirect = on
}

// RejectRenameOptions makes RENAME refuse the renameoptions parameter, as
// servers older than Hadoop 2.x do.
func (s *Server) RejectRenameOptions(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noRenameOptions = on
}

// InjectFault queues a fault for the next request of op in the given phase.
func (s *Server) InjectFault(op string, phase Phase, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Times <= 0 {
		f.Times = 1
	}
	key := faultKey{op: op, phase: phase}
	s.faults[key] = append(s.faults[key], f)
}

// Count returns how many namenode requests were received for op.
func (s *Server) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// DataCount returns how many datanode requests were received for op.
func (s *Server) DataCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataCounts[op]
}

// TotalCount returns the number of namenode requests of all operations.
func (s *Server) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

// ResetCounts clears the request counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int)
	s.dataCounts = make(map[string]int)
}

// WriteFile stores a file (and its parents) directly, bypassing HTTP.
func (s *Server) WriteFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAll(path.Dir(p))
	n := s.newNode(false, 0o644)
	n.data = append([]byte(nil), data...)
	s.nodes[p] = n
}

// Mkdir creates a directory (and its parents) directly, bypassing HTTP.
func (s *Server) Mkdir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(clean(p))
}

// ReadFile returns the content of a file and whether it exists.
func (s *Server) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[clean(p)]
	if !ok || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists reports whether p exists.
func (s *Server) Exists(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[clean(p)]
	return ok
}

// IsDir reports whether p is an existing directory.
func (s *Server) IsDir(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[clean(p)]
	return ok && n.dir
}

// Perm returns the permission bits of p.
func (s *Server) Perm(p string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[clean(p)]; ok {
		return n.perm
	}
	return 0
}

// Mtime returns the modification time of p in milliseconds.
func (s *Server) Mtime(p string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[clean(p)]; ok {
		return n.mtime
	}
	return 0
}

// --- HTTP handlers ---

func (s *Server) serveNamenode(w http.ResponseWriter, r *http.Request) {
	op := strings.ToUpper(r.URL.Query().Get("op"))
	p := clean(strings.TrimPrefix(r.URL.Path, namenodePrefix))

	s.mu.Lock()
	s.counts[op]++
	s.mu.Unlock()

	if !s.authorized(w, r) {
		return
	}
	if s.fault(w, op, PhaseNamenode, func() { s.applyNamenode(op, p, r) }) {
		return
	}

	switch op {
	case "OPEN", "CREATE", "APPEND":
		s.redirect(w, r, op, p)
		return
	}

	status, body := s.applyNamenode(op, p, r)
	writeJSON(w, status, body)
}

func (s *Server) serveDatanode(w http.ResponseWriter, r *http.Request) {
	op := strings.ToUpper(r.URL.Query().Get("op"))
	p := clean(strings.TrimPrefix(r.URL.Path, datanodePrefix))

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.dataCounts[op]++
	s.mu.Unlock()

	if !s.authorized(w, r) {
		return
	}

	var (
		status int
		body   any
		raw    []byte
	)
	apply := func() {
		status, body, raw = s.applyDatanode(op, p, r, data)
	}

	if s.fault(w, op, PhaseDatanode, apply) {
		return
	}
	apply()

	if raw != nil {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(status)
		_, _ = w.Write(raw)
		return
	}
	writeJSON(w, status, body)
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, op, p string) {
	s.mu.Lock()
	relative := s.relativeRedirect
	s.mu.Unlock()

	// OPEN, APPEND and CREATE of a directory fail on the namenode.
	if op != "CREATE" {
		s.mu.Lock()
		n, ok := s.nodes[p]
		s.mu.Unlock()
		if !ok {
			writeException(w, http.StatusNotFound, "FileNotFoundException", "File "+p+" does not exist.")
			return
		}
		if n.dir {
			writeException(w, http.StatusNotFound, "FileNotFoundException", "Path is not a file: "+p)
			return
		}
	}

	q := r.URL.Query()
	target := datanodePrefix + p + "?" + q.Encode()
	if !relative {
		target = "http://" + r.Host + target
	}
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	user, pass, token := s.basicUser, s.basicPass, s.bearerToken
	s.mu.Unlock()

	if user != "" {
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
		if r.Header.Get("Authorization") != want {
			w.Header().Set("WWW-Authenticate", `Basic realm="webhdfs"`)
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
	}
	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

// fault consumes a queued fault for (op, phase) and answers with it.
func (s *Server) fault(w http.ResponseWriter, op string, phase Phase, apply func()) bool {
	s.mu.Lock()
	key := faultKey{op: op, phase: phase}
	queue := s.faults[key]
	if len(queue) == 0 {
		s.mu.Unlock()
		return false
	}
	f := queue[0]
	queue[0].Times--
	if queue[0].Times <= 0 {
		queue = queue[1:]
	}
	s.faults[key] = queue
	s.mu.Unlock()

	if f.ApplyFirst {
		apply()
	}

	if f.Drop {
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("webhdfstest: response writer cannot be hijacked")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return true
	}

	if f.Exception != "" {
		writeException(w, f.Status, f.Exception, f.Message)
	} else {
		w.WriteHeader(f.Status)
	}
	return true
}

// --- namespace operations (s.mu not held on entry) ---

func (s *Server) applyNamenode(op, p string, r *http.Request) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	n, exists := s.nodes[p]

	switch op {
	case "GETFILESTATUS":
		if !exists {
			return notFound(p)
		}
		return http.StatusOK, map[string]any{"FileStatus": s.status(p, n, "")}

	case "LISTSTATUS":
		if !exists {
			return notFound(p)
		}
		statuses := []any{}
		if !n.dir {
			statuses = append(statuses, s.status(p, n, ""))
		} else {
			for _, child := range s.children(p) {
				statuses = append(statuses, s.status(child, s.nodes[child], path.Base(child)))
			}
		}
		return http.StatusOK, map[string]any{"FileStatuses": map[string]any{"FileStatus": statuses}}

	case "GETCONTENTSUMMARY":
		if !exists {
			return notFound(p)
		}
		var dirs, files, length int64
		for np, nn := range s.nodes {
			if np != p && !strings.HasPrefix(np, strings.TrimSuffix(p, "/")+"/") {
				continue
			}
			if nn.dir {
				dirs++
			} else {
				files++
				length += int64(len(nn.data))
			}
		}
		return http.StatusOK, map[string]any{"ContentSummary": map[string]any{
			"directoryCount": dirs,
			"fileCount":      files,
			"length":         length,
			"quota":          -1,
			"spaceConsumed":  length * 3,
			"spaceQuota":     -1,
		}}

	case "MKDIRS":
		if exists {
			if !n.dir {
				return exception(http.StatusForbidden, "FileAlreadyExistsException", "Path is not a directory: "+p)
			}
			return http.StatusOK, map[string]any{"boolean": true}
		}
		if code, body, ok := s.checkAncestors(p); !ok {
			return code, body
		}
		perm := parsePerm(q.Get("permission"), 0o755)
		s.mkdirAll(path.Dir(p))
		s.nodes[p] = s.newNode(true, perm)
		s.touch(path.Dir(p))
		return http.StatusOK, map[string]any{"boolean": true}

	case "DELETE":
		if !exists || p == "/" {
			return http.StatusOK, map[string]any{"boolean": false}
		}
		kids := s.children(p)
		if n.dir && len(kids) > 0 && q.Get("recursive") != "true" {
			return exception(http.StatusForbidden, "PathIsNotEmptyDirectoryException",
				"`"+p+" is non empty': Directory is not empty")
		}
		for np := range s.nodes {
			if np == p || strings.HasPrefix(np, p+"/") {
				delete(s.nodes, np)
			}
		}
		s.touch(path.Dir(p))
		return http.StatusOK, map[string]any{"boolean": true}

	case "RENAME":
		dst := clean(q.Get("destination"))
		if opts := q.Get("renameoptions"); opts != "" {
			if s.noRenameOptions {
				return exception(http.StatusBadRequest, "IllegalArgumentException",
					"Invalid value for webhdfs parameter \"renameoptions\": "+opts)
			}
			return s.renameWithOptions(p, dst, strings.Contains(strings.ToUpper(opts), "OVERWRITE"))
		}
		if !exists || p == "/" || dst == p || strings.HasPrefix(dst, p+"/") {
			return http.StatusOK, map[string]any{"boolean": false}
		}
		if dn, ok := s.nodes[dst]; ok {
			if !dn.dir {
				return http.StatusOK, map[string]any{"boolean": false}
			}
			dst = path.Join(dst, path.Base(p))
			if _, taken := s.nodes[dst]; taken {
				return http.StatusOK, map[string]any{"boolean": false}
			}
		}
		if parent, ok := s.nodes[path.Dir(dst)]; !ok || !parent.dir {
			return http.StatusOK, map[string]any{"boolean": false}
		}
		moved := make(map[string]*node)
		for np, nn := range s.nodes {
			if np == p || strings.HasPrefix(np, p+"/") {
				moved[dst+strings.TrimPrefix(np, p)] = nn
				delete(s.nodes, np)
			}
		}
		for np, nn := range moved {
			s.nodes[np] = nn
		}
		s.touch(path.Dir(p))
		s.touch(path.Dir(dst))
		return http.StatusOK, map[string]any{"boolean": true}

	case "SETPERMISSION":
		if !exists {
			return notFound(p)
		}
		n.perm = parsePerm(q.Get("permission"), n.perm)
		return http.StatusOK, nil

	case "SETTIMES":
		if !exists {
			return notFound(p)
		}
		if v, err := strconv.ParseInt(q.Get("modificationtime"), 10, 64); err == nil && v >= 0 {
			n.mtime = v
		}
		if v, err := strconv.ParseInt(q.Get("accesstime"), 10, 64); err == nil && v >= 0 {
			n.atime = v
		}
		return http.StatusOK, nil

	case "TRUNCATE":
		if !exists || n.dir {
			return notFound(p)
		}
		newLength, err := strconv.ParseInt(q.Get("newlength"), 10, 64)
		if err != nil || newLength < 0 {
			return exception(http.StatusBadRequest, "IllegalArgumentException", "invalid newlength")
		}
		if newLength > int64(len(n.data)) {
			return exception(http.StatusForbidden, "HadoopIllegalArgumentException",
				"Cannot truncate to a larger file size")
		}
		n.data = n.data[:newLength]
		n.mtime = nowMillis()
		return http.StatusOK, map[string]any{"boolean": true}
	}

	return exception(http.StatusBadRequest, "IllegalArgumentException", "Invalid value for webhdfs parameter \"op\": "+op)
}

func (s *Server) applyDatanode(op, p string, r *http.Request, data []byte) (int, any, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := r.URL.Query()
	n, exists := s.nodes[p]

	switch op {
	case "OPEN":
		if !exists || n.dir {
			code, body := notFound(p)
			return code, body, nil
		}
		offset, _ := strconv.ParseInt(q.Get("offset"), 10, 64)
		length := int64(len(n.data))
		if l := q.Get("length"); l != "" {
			length, _ = strconv.ParseInt(l, 10, 64)
		}
		n.atime = nowMillis()
		if offset >= int64(len(n.data)) {
			return http.StatusOK, nil, []byte{}
		}
		end := offset + length
		if end > int64(len(n.data)) {
			end = int64(len(n.data))
		}
		return http.StatusOK, nil, append([]byte(nil), n.data[offset:end]...)

	case "CREATE":
		if exists {
			if n.dir {
				code, body := exception(http.StatusForbidden, "FileAlreadyExistsException", p+" already exists as a directory")
				return code, body, nil
			}
			if q.Get("overwrite") != "true" {
				code, body := exception(http.StatusForbidden, "FileAlreadyExistsException", p+" for client already exists")
				return code, body, nil
			}
		}
		if code, body, ok := s.checkAncestors(p); !ok {
			return code, body, nil
		}
		s.mkdirAll(path.Dir(p))
		fresh := s.newNode(false, parsePerm(q.Get("permission"), 0o644))
		fresh.data = append([]byte(nil), data...)
		s.nodes[p] = fresh
		s.touch(path.Dir(p))
		return http.StatusCreated, nil, nil

	case "APPEND":
		if !exists || n.dir {
			code, body := notFound(p)
			return code, body, nil
		}
		n.data = append(n.data, data...)
		n.mtime = nowMillis()
		return http.StatusOK, nil, nil
	}

	code, body := exception(http.StatusBadRequest, "IllegalArgumentException", "unsupported datanode op "+op)
	return code, body, nil
}

// --- helpers (s.mu held) ---

// renameWithOptions moves p to exactly dst and reports failures as
// exceptions. An existing file or empty directory at dst is replaced when
// overwrite is set.
func (s *Server) renameWithOptions(p, dst string, overwrite bool) (int, any) {
	n, exists := s.nodes[p]
	if !exists {
		return notFound(p)
	}
	if p == "/" || dst == p || strings.HasPrefix(dst, p+"/") {
		return exception(http.StatusForbidden, "IOException", "Cannot rename "+p+" to "+dst)
	}

	parent, ok := s.nodes[path.Dir(dst)]
	if !ok {
		return exception(http.StatusNotFound, "FileNotFoundException", "rename destination parent "+path.Dir(dst)+" not found.")
	}
	if !parent.dir {
		return exception(http.StatusForbidden, "ParentNotDirectoryException", "rename destination parent "+path.Dir(dst)+" is a file.")
	}

	if dn, taken := s.nodes[dst]; taken {
		switch {
		case !overwrite:
			return exception(http.StatusForbidden, "FileAlreadyExistsException", "rename destination "+dst+" already exists.")
		case dn.dir != n.dir:
			return exception(http.StatusForbidden, "IOException", "Source "+p+" and destination "+dst+" must both be directories")
		case dn.dir && len(s.children(dst)) > 0:
			return exception(http.StatusForbidden, "IOException", "rename destination directory is not empty: "+dst)
		}
		delete(s.nodes, dst)
	}

	moved := make(map[string]*node)
	for np, nn := range s.nodes {
		if np == p || strings.HasPrefix(np, p+"/") {
			moved[dst+strings.TrimPrefix(np, p)] = nn
			delete(s.nodes, np)
		}
	}
	for np, nn := range moved {
		s.nodes[np] = nn
	}
	s.touch(path.Dir(p))
	s.touch(path.Dir(dst))
	return http.StatusOK, nil
}

func (s *Server) newNode(dir bool, perm uint32) *node {
	now := nowMillis()
	s.nextID++
	return &node{dir: dir, perm: perm, owner: "hdfs", group: "supergroup", mtime: now, atime: now, id: s.nextID}
}

func (s *Server) mkdirAll(p string) {
	if p == "/" || p == "." || p == "" {
		return
	}
	if _, ok := s.nodes[p]; ok {
		return
	}
	s.mkdirAll(path.Dir(p))
	s.nodes[p] = s.newNode(true, 0o755)
}

// checkAncestors fails when an existing ancestor of p is a file.
func (s *Server) checkAncestors(p string) (int, any, bool) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if n, ok := s.nodes[dir]; ok && !n.dir {
			code, body := exception(http.StatusForbidden, "ParentNotDirectoryException", "Parent path is not a directory: "+dir)
			return code, body, false
		}
	}
	return 0, nil, true
}

func (s *Server) touch(dir string) {
	if n, ok := s.nodes[dir]; ok {
		n.mtime = nowMillis()
	}
}

func (s *Server) children(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []string
	for p := range s.nodes {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Server) status(p string, n *node, suffix string) map[string]any {
	st := map[string]any{
		"accessTime":       n.atime,
		"blockSize":        0,
		"childrenNum":      0,
		"fileId":           n.id,
		"group":            n.group,
		"length":           0,
		"modificationTime": n.mtime,
		"owner":            n.owner,
		"pathSuffix":       suffix,
		"permission":       strconv.FormatUint(uint64(n.perm), 8),
		"replication":      0,
		"type":             "FILE",
	}
	if n.dir {
		st["type"] = "DIRECTORY"
		st["childrenNum"] = len(s.children(p))
	} else {
		st["length"] = len(n.data)
		st["blockSize"] = 134217728
		st["replication"] = 3
	}
	return st
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

func parsePerm(v string, def uint32) uint32 {
	if v == "" {
		return def
	}
	perm, err := strconv.ParseUint(v, 8, 32)
	if err != nil {
		return def
	}
	return uint32(perm)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func notFound(p string) (int, any) {
	return exception(http.StatusNotFound, "FileNotFoundException", "File does not exist: "+p)
}

func exception(status int, name, message string) (int, any) {
	return status, map[string]any{"RemoteException": map[string]any{
		"exception":     name,
		"javaClassName": "org.apache.hadoop." + name,
		"message":       message,
	}}
}

func writeException(w http.ResponseWriter, status int, name, message string) {
	_, body := exception(status, name, message)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
