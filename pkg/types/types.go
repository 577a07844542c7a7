package types

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// BackendKind tags an ObjectStore implementation.
type BackendKind string

const (
	BackendSwift BackendKind = "swift"
)

// Credentials configures one identity session.
type Credentials struct {
	AuthURL     string `yaml:"url" json:"url"`
	AuthVersion string `yaml:"version" json:"version"`
	TenantName  string `yaml:"tenant" json:"tenant"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"-"`
	Region      string `yaml:"region" json:"region"`

	// ServiceName restricts catalog matching to one object-store service name.
	// Empty matches any object-store entry.
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Validate reports the first missing required field.
func (c Credentials) Validate() error {
	var missing []string
	if c.AuthURL == "" {
		missing = append(missing, "auth url")
	}
	if c.AuthVersion == "" {
		missing = append(missing, "auth version")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return fmt.Errorf("credentials missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ObjectInfo is what a HEAD request reveals about an object or a container root.
type ObjectInfo struct {
	Name        string
	Size        int64
	ContentType string
	ETag        string

	// LastModified and Created are zero when the header was absent or malformed.
	LastModified time.Time
	Created      time.Time

	// DirectoryMarker is set for placeholder objects created by mkdir.
	DirectoryMarker bool

	// Container is set when the HEAD targeted the container root; ObjectCount
	// is then the X-Container-Object-Count value.
	Container   bool
	ObjectCount int64
}

// IsDir reports whether the object behaves as a directory.
func (o *ObjectInfo) IsDir() bool {
	return o.Container || o.DirectoryMarker
}

// StatEntry is the POSIX-like metadata snapshot of a path.
type StatEntry struct {
	Size     int64     `json:"size"`
	Created  time.Time `json:"ctime"`
	Modified time.Time `json:"mtime"`
	IsDir    bool      `json:"is_dir"`
}

// Mode returns a permission-less file mode carrying the directory bit.
func (s StatEntry) Mode() fs.FileMode {
	if s.IsDir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Expirations uint64  `json:"expirations"`
	Size        int     `json:"size"`
	HitRate     float64 `json:"hit_rate"`
}
