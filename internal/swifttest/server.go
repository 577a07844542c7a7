// Package swifttest runs an in-memory Swift object store and Keystone v2.0
// identity service for tests.
package swifttest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/swiftfs/swiftfs/pkg/types"
)

const (
	Tenant   = "tenant"
	Username = "user"
	Password = "secret"
	Region   = "RegionOne"

	accountPath  = "/v1/AUTH_tenant"
	identityPath = "/identity/"
)

// Object is a stored object.
type Object struct {
	Data        []byte
	ContentType string
	Directory   bool
	Created     time.Time
	Modified    time.Time
}

// ArchiveUpload records a PUT carrying extract-archive.
type ArchiveUpload struct {
	Container string
	Path      string
	Format    string
	Body      []byte
}

// Server is the fake store. Requests against the account endpoint are
// counted per method so tests can assert that no call was made.
type Server struct {
	*httptest.Server

	// TokenTTL is how long issued tokens stay valid. Zero means one hour.
	TokenTTL time.Duration
	// DropTimestamp omits X-Timestamp from HEAD responses.
	DropTimestamp bool
	// DropLastModified omits Last-Modified from HEAD responses.
	DropLastModified bool
	// IgnoreRange answers ranged GETs with the full body and status 200.
	IgnoreRange bool

	clock types.Clock

	mu         sync.Mutex
	containers map[string]map[string]*Object
	tokens     map[string]time.Time
	requests   map[string]int
	tokenPosts int
	failures   map[string][]int
	archives   []ArchiveUpload
	listPages  int
}

// NewServer starts a server that stops when t finishes. A nil clock uses the wall clock.
func NewServer(t testing.TB, clock types.Clock) *Server {
	t.Helper()

	if clock == nil {
		clock = types.SystemClock{}
	}
	s := &Server{
		clock:      clock,
		containers: make(map[string]map[string]*Object),
		tokens:     make(map[string]time.Time),
		requests:   make(map[string]int),
		failures:   make(map[string][]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(identityPath, s.handleVersions)
	mux.HandleFunc(identityPath+"v2.0/tokens", s.handleTokens)
	mux.HandleFunc(accountPath+"/", s.handleStorage)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// Credentials returns credentials accepted by the server.
func (s *Server) Credentials() types.Credentials {
	return types.Credentials{
		AuthURL:     s.URL + identityPath,
		AuthVersion: "v2.0",
		TenantName:  Tenant,
		Username:    Username,
		Password:    Password,
		Region:      Region,
	}
}

// StorageURL is the account endpoint advertised for Region.
func (s *Server) StorageURL() string {
	return s.URL + accountPath
}

// CreateContainer makes an empty container.
func (s *Server) CreateContainer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[name]; !ok {
		s.containers[name] = make(map[string]*Object)
	}
}

// PutObject stores data directly, creating the container if needed.
func (s *Server) PutObject(container, name string, data []byte) {
	s.CreateContainer(container)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.containers[container][name] = &Object{
		Data:        append([]byte(nil), data...),
		ContentType: "application/octet-stream",
		Created:     now,
		Modified:    now,
	}
}

// Object returns a copy of a stored object.
func (s *Server) Object(container, name string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.containers[container]
	if !ok {
		return Object{}, false
	}
	obj, ok := objects[name]
	if !ok {
		return Object{}, false
	}
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	return cp, true
}

// FailNext makes the next request with method answer status instead.
func (s *Server) FailNext(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], status)
}

// Requests returns how many storage requests with method were received.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

// TotalRequests returns the number of storage requests of any method.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

// TokenRequests returns how many token POSTs were received.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenPosts
}

// ListPages returns how many listing pages were served.
func (s *Server) ListPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPages
}

// Archives returns recorded archive uploads.
func (s *Server) Archives() []ArchiveUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ArchiveUpload(nil), s.archives...)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != identityPath || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	type link struct {
		Href string `json:"href"`
	}
	type version struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []link `json:"links"`
	}
	body := map[string]interface{}{
		"versions": map[string]interface{}{
			"values": []version{
				{ID: "v3.0", Status: "stable", Links: []link{{Href: s.URL + identityPath + "v3/"}}},
				{ID: "v2.0", Status: "deprecated", Links: []link{{Href: s.URL + identityPath + "v2.0/"}}},
			},
		},
	}
	writeJSON(w, http.StatusMultipleChoices, body)
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Auth struct {
			TenantName          string `json:"tenantName"`
			PasswordCredentials struct {
				Username string `json:"username"`
				Password string `json:"password"`
			} `json:"passwordCredentials"`
		} `json:"auth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.tokenPosts++
	creds := req.Auth.PasswordCredentials
	if req.Auth.TenantName != Tenant || creds.Username != Username || creds.Password != Password {
		s.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	id := fmt.Sprintf("tok-%d", s.tokenPosts)
	expires := s.clock.Now().Add(ttl)
	s.tokens[id] = expires
	s.mu.Unlock()

	type endpoint struct {
		Region    string `json:"region"`
		PublicURL string `json:"publicURL"`
	}
	type entry struct {
		Type      string     `json:"type"`
		Name      string     `json:"name"`
		Endpoints []endpoint `json:"endpoints"`
	}
	body := map[string]interface{}{
		"access": map[string]interface{}{
			"token": map[string]interface{}{
				"id":      id,
				"expires": expires.UTC().Format(time.RFC3339),
			},
			"serviceCatalog": []entry{
				{Type: "identity", Name: "keystone", Endpoints: []endpoint{{Region: Region, PublicURL: s.URL + identityPath}}},
				{Type: "object-store", Name: "swift", Endpoints: []endpoint{
					{Region: "RegionTwo", PublicURL: s.URL + "/v1/AUTH_elsewhere"},
					{Region: Region, PublicURL: s.StorageURL()},
				}},
			},
		},
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[r.Method]++

	if status, ok := s.popFailure(r.Method); ok {
		w.WriteHeader(status)
		return
	}

	expires, ok := s.tokens[r.Header.Get("X-Auth-Token")]
	if !ok || !s.clock.Now().Before(expires) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, accountPath+"/")
	container, name, _ := strings.Cut(rest, "/")
	objects, ok := s.containers[container]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if name == "" {
		s.handleContainer(w, r, objects)
		return
	}

	switch r.Method {
	case http.MethodHead:
		obj, ok := objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.writeObjectHeaders(w, obj)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		obj, ok := objects[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.serveObject(w, r, obj)
	case http.MethodPut:
		s.putObject(w, r, name, objects)
	case http.MethodDelete:
		if _, ok := objects[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) popFailure(method string) (int, bool) {
	queue := s.failures[method]
	if len(queue) == 0 {
		return 0, false
	}
	s.failures[method] = queue[1:]
	return queue[0], true
}

func (s *Server) handleContainer(w http.ResponseWriter, r *http.Request, objects map[string]*Object) {
	switch r.Method {
	case http.MethodHead:
		w.Header().Set("X-Container-Object-Count", strconv.Itoa(len(objects)))
		w.Header().Set("X-Timestamp", "1700000000.00000")
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		s.listPages++
		names := listNames(objects, r)
		if len(names) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		for _, name := range names {
			fmt.Fprintf(w, "%s\n", name)
		}
	case http.MethodPut:
		if format := r.URL.Query().Get("extract-archive"); format != "" {
			s.recordArchive(w, r, "", format)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func listNames(objects map[string]*Object, r *http.Request) []string {
	query := r.URL.Query()
	prefix := query.Get("prefix")
	marker := query.Get("marker")
	endMarker := query.Get("end_marker")
	limit := 10000
	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var all []string
	for name := range objects {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if marker != "" && name <= marker {
			continue
		}
		if endMarker != "" && name >= endMarker {
			continue
		}
		all = append(all, name)
	}
	sort.Strings(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (s *Server) writeObjectHeaders(w http.ResponseWriter, obj *Object) {
	h := w.Header()
	h.Set("Content-Length", strconv.Itoa(len(obj.Data)))
	h.Set("Content-Type", obj.ContentType)
	sum := md5.Sum(obj.Data)
	h.Set("ETag", hex.EncodeToString(sum[:]))
	if !s.DropLastModified {
		h.Set("Last-Modified", obj.Modified.UTC().Format(http.TimeFormat))
	}
	if !s.DropTimestamp {
		h.Set("X-Timestamp", fmt.Sprintf("%d.%05d", obj.Created.Unix(), obj.Created.Nanosecond()/10000))
	}
	if obj.Directory {
		h.Set("X-Object-Meta-Directory", "true")
	}
}

func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, obj *Object) {
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || s.IgnoreRange {
		s.writeObjectHeaders(w, obj)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.Data)
		return
	}

	var start, end int
	if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end); err != nil || start > end {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	size := len(obj.Data)
	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= size {
		end = size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(obj.Data[start : end+1])
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request, name string, objects map[string]*Object) {
	if format := r.URL.Query().Get("extract-archive"); format != "" {
		s.recordArchive(w, r, name, format)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if etag := r.Header.Get("ETag"); etag != "" {
		sum := md5.Sum(data)
		if !strings.EqualFold(etag, hex.EncodeToString(sum[:])) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
	}

	now := s.clock.Now()
	created := now
	if existing, ok := objects[name]; ok {
		created = existing.Created
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objects[name] = &Object{
		Data:        data,
		ContentType: contentType,
		Directory:   strings.EqualFold(r.Header.Get("X-Object-Meta-Directory"), "true"),
		Created:     created,
		Modified:    now,
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) recordArchive(w http.ResponseWriter, r *http.Request, path, format string) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	container := strings.SplitN(strings.TrimPrefix(r.URL.Path, accountPath+"/"), "/", 2)[0]
	s.archives = append(s.archives, ArchiveUpload{Container: container, Path: path, Format: format, Body: data})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"Number Files Created": 0,
		"Response Status":      "201 Created",
		"Errors":               []string{},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
