// Package vfs emulates POSIX-like files on top of whole-object storage.
//
// Paths have the form "swift://container/object". The scheme prefix is
// optional and stripped once; the first path segment selects the container.
// A path naming only the container is the container root and behaves as a
// directory.
package vfs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swiftfs/swiftfs/internal/cache"
	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/objectstore"
	"github.com/swiftfs/swiftfs/pkg/types"
	"github.com/swiftfs/swiftfs/pkg/utils"
)

const component = "vfs"

// DefaultMaxFileSize is the largest object Swift accepts in a single PUT.
const DefaultMaxFileSize int64 = 5 << 30

// Options configures a FileSystem.
type Options struct {
	// Scheme is the path prefix stripped from incoming paths. Defaults to "swift".
	Scheme string
	// StatTTL bounds the age of cached stat results. Defaults to cache.DefaultTTL.
	StatTTL time.Duration
	// MaterializeAfterReads switches a handle from ranged reads to a full
	// download after this many partial reads. Zero never switches.
	MaterializeAfterReads int
	// MaxFileSize caps the buffered content of a handle. Writes and truncates
	// past it fail. Defaults to DefaultMaxFileSize.
	MaxFileSize int64

	Clock   types.Clock
	Logger  *slog.Logger
	Metrics types.MetricsRecorder
}

// FileSystem resolves paths to per-container stores and shares one metadata
// cache across all handles. It is safe for concurrent use; the Files it
// opens are not.
type FileSystem struct {
	factory objectstore.Factory
	opts    Options
	clock   types.Clock
	logger  *slog.Logger
	metrics types.MetricsRecorder
	cache   *cache.MetadataCache

	mu     sync.Mutex
	stores map[string]types.ObjectStore
}

// location is a resolved path.
type location struct {
	container string
	name      string
}

func (l location) key() string {
	if l.name == "" {
		return l.container
	}
	return l.container + "/" + l.name
}

func (l location) isRoot() bool {
	return l.name == ""
}

// New creates a FileSystem building stores through factory.
func New(factory objectstore.Factory, opts Options) (*FileSystem, error) {
	if factory == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "store factory is required").WithComponent(component)
	}
	if opts.Scheme == "" {
		opts.Scheme = utils.DefaultScheme
	}
	if opts.StatTTL <= 0 {
		opts.StatTTL = cache.DefaultTTL
	}
	if opts.MaterializeAfterReads < 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "materialize_after_reads cannot be negative").
			WithComponent(component)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Clock == nil {
		opts.Clock = types.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NopMetrics{}
	}

	return &FileSystem{
		factory: factory,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", component),
		metrics: opts.Metrics,
		cache:   cache.NewMetadataCache(cache.TTLConfig{TTL: opts.StatTTL, Clock: opts.Clock}, opts.Metrics),
		stores:  make(map[string]types.ObjectStore),
	}, nil
}

// CacheStats reports metadata cache counters.
func (fs *FileSystem) CacheStats() types.CacheStats {
	return fs.cache.Stats()
}

// Store returns the store bound to container, building it on first use.
func (fs *FileSystem) Store(container string) (types.ObjectStore, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if store, ok := fs.stores[container]; ok {
		return store, nil
	}
	store, err := fs.factory(container)
	if err != nil {
		return nil, err
	}
	fs.stores[container] = store
	return store, nil
}

func (fs *FileSystem) resolve(path, op string) (location, error) {
	stripped := utils.StripScheme(path, fs.opts.Scheme)
	container, name, err := utils.SplitContainerPath(stripped)
	if err != nil {
		return location{}, errors.NewError(errors.ErrCodeValidationFailed, err.Error()).
			WithComponent(component).WithOperation(op).WithPath(path)
	}
	if name != "" {
		if err := utils.ValidateObjectName(name); err != nil {
			return location{}, errors.NewError(errors.ErrCodeValidationFailed, err.Error()).
				WithComponent(component).WithOperation(op).WithPath(path)
		}
	}
	return location{container: container, name: name}, nil
}

// Stat returns metadata for path. Results younger than the stat TTL are
// served from the cache without a request.
func (fs *FileSystem) Stat(ctx context.Context, path string) (*types.StatEntry, error) {
	loc, err := fs.resolve(path, "stat")
	if err != nil {
		return nil, err
	}
	return fs.stat(ctx, loc)
}

// StatQuiet is Stat with every failure reported as a missing path.
func (fs *FileSystem) StatQuiet(ctx context.Context, path string) (*types.StatEntry, bool) {
	loc, err := fs.resolve(path, "stat")
	if err != nil {
		return nil, false
	}
	return fs.statQuiet(ctx, loc)
}

func (fs *FileSystem) statQuiet(ctx context.Context, loc location) (*types.StatEntry, bool) {
	entry, err := fs.stat(ctx, loc)
	if err != nil {
		if !errors.IsNotFound(err) {
			fs.logger.Debug("quiet stat failed", "path", loc.key(), "error", err)
		}
		return nil, false
	}
	return entry, true
}

func (fs *FileSystem) stat(ctx context.Context, loc location) (*types.StatEntry, error) {
	key := loc.key()
	if entry, ok := fs.cache.Lookup(key); ok {
		return &entry, nil
	}

	store, err := fs.Store(loc.container)
	if err != nil {
		return nil, err
	}
	info, err := store.Head(ctx, loc.name)
	if err != nil {
		return nil, err
	}

	entry := types.StatEntry{
		Size:     info.Size,
		Created:  info.Created,
		Modified: info.LastModified,
		IsDir:    info.IsDir(),
	}
	now := fs.clock.Now()
	if entry.Created.IsZero() {
		fs.logger.Warn("creation time unavailable, using current time", "path", key)
		entry.Created = now
	}
	if entry.Modified.IsZero() {
		fs.logger.Warn("modification time unavailable, using current time", "path", key)
		entry.Modified = now
	}

	fs.cache.Store(key, entry)
	return &entry, nil
}

func (fs *FileSystem) invalidate(loc location) {
	fs.cache.Invalidate(loc.key())
}

// Unlink deletes the object at path. A missing object is not an error.
func (fs *FileSystem) Unlink(ctx context.Context, path string) error {
	loc, err := fs.resolve(path, "unlink")
	if err != nil {
		return err
	}
	if loc.isRoot() {
		return errors.NewError(errors.ErrCodeValidationFailed, "cannot unlink a container root").
			WithComponent(component).WithOperation("unlink").WithPath(path)
	}
	if entry, ok := fs.statQuiet(ctx, loc); ok && entry.IsDir {
		return errors.NewError(errors.ErrCodeIsDirectory, "path is a directory, use rmdir").
			WithComponent(component).WithOperation("unlink").WithPath(path)
	}

	return fs.remove(ctx, loc)
}

// Mkdir creates a directory marker object at path.
func (fs *FileSystem) Mkdir(ctx context.Context, path string) error {
	loc, err := fs.resolve(path, "mkdir")
	if err != nil {
		return err
	}
	if loc.isRoot() {
		return errors.NewError(errors.ErrCodeValidationFailed, "cannot create a container root").
			WithComponent(component).WithOperation("mkdir").WithPath(path)
	}

	store, err := fs.Store(loc.container)
	if err != nil {
		return err
	}
	if err := store.PutDirectoryMarker(ctx, loc.name); err != nil {
		return err
	}
	fs.invalidate(loc)
	return nil
}

// Rmdir deletes the directory marker at path. A missing marker is not an error.
func (fs *FileSystem) Rmdir(ctx context.Context, path string) error {
	loc, err := fs.resolve(path, "rmdir")
	if err != nil {
		return err
	}
	if loc.isRoot() {
		return errors.NewError(errors.ErrCodeValidationFailed, "cannot remove a container root").
			WithComponent(component).WithOperation("rmdir").WithPath(path)
	}
	if entry, ok := fs.statQuiet(ctx, loc); !ok || !entry.IsDir {
		return errors.NewError(errors.ErrCodeNotDirectory, "path is not a directory").
			WithComponent(component).WithOperation("rmdir").WithPath(path)
	}

	return fs.remove(ctx, loc)
}

func (fs *FileSystem) remove(ctx context.Context, loc location) error {
	store, err := fs.Store(loc.container)
	if err != nil {
		return err
	}
	deleted, err := store.Delete(ctx, loc.name)
	if err != nil {
		return err
	}
	fs.invalidate(loc)
	if !deleted {
		fs.logger.Debug("object already absent", "path", loc.key())
	}
	return nil
}

// Rename is not supported by the store.
func (fs *FileSystem) Rename(ctx context.Context, from, to string) error {
	return errors.NewUnsupportedError("rename").WithComponent(component).WithPath(from)
}

// SetMetadata covers touch, chmod and chown, none of which the store supports.
func (fs *FileSystem) SetMetadata(ctx context.Context, path string, option int, value interface{}) error {
	return errors.NewUnsupportedError("set metadata").WithComponent(component).WithPath(path)
}
