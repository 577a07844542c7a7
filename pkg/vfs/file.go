package vfs

import (
	"context"
	"io"

	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/types"
)

// File is an open handle on one object. Until the content is loaded, reads
// are ranged GETs and the size comes from a HEAD. The first write, truncate,
// or an appending or creating open loads the whole object into memory; from
// then on the buffer is the only source of truth until Flush.
//
// A File is not safe for concurrent use.
type File struct {
	fs    *FileSystem
	store types.ObjectStore
	loc   location
	path  string
	mode  Mode

	pointer int64

	buffer []byte
	loaded bool

	// size is the HEAD-derived length, valid while !loaded.
	size      int64
	sizeKnown bool

	dirty        bool
	closed       bool
	partialReads int
}

// Open opens path in mode (see ParseMode). Opening a directory fails for
// every mode.
func (fs *FileSystem) Open(ctx context.Context, path, mode string) (*File, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	loc, err := fs.resolve(path, "open")
	if err != nil {
		return nil, err
	}
	if loc.isRoot() {
		return nil, errors.NewError(errors.ErrCodeIsDirectory, "cannot open a container root").
			WithComponent(component).WithOperation("open").WithPath(path)
	}

	store, err := fs.Store(loc.container)
	if err != nil {
		return nil, err
	}

	entry, err := fs.stat(ctx, loc)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}
	exists := err == nil
	if exists && entry.IsDir {
		return nil, errors.NewError(errors.ErrCodeIsDirectory, "path is a directory").
			WithComponent(component).WithOperation("open").WithPath(path)
	}

	f := &File{fs: fs, store: store, loc: loc, path: path, mode: m}

	switch m {
	case ModeRead, ModeReadWrite:
		if !exists {
			return nil, errors.NewNotFoundError(path).WithComponent(component).WithOperation("open")
		}
		f.size = entry.Size
		f.sizeKnown = true
	case ModeWrite, ModeWriteRead:
		if _, err := store.Delete(ctx, loc.name); err != nil {
			return nil, err
		}
		fs.invalidate(loc)
		f.startEmpty()
	case ModeAppend, ModeAppendRead:
		if err := f.ensureLoaded(ctx, true); err != nil {
			return nil, err
		}
		if m == ModeAppend {
			f.pointer = int64(len(f.buffer))
		}
	case ModeExclusive, ModeExclusiveRead:
		if exists {
			return nil, errors.NewError(errors.ErrCodeObjectExists, "object already exists").
				WithComponent(component).WithOperation("open").WithPath(path).
				WithContext(errors.ContextMode, m.String())
		}
		f.startEmpty()
	case ModeCreate, ModeCreateRead:
		if err := f.ensureLoaded(ctx, true); err != nil {
			return nil, err
		}
	}

	fs.logger.Debug("opened", "path", loc.key(), "mode", m.String())
	return f, nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string { return f.path }

// Mode returns the open mode.
func (f *File) Mode() Mode { return f.mode }

func (f *File) startEmpty() {
	f.buffer = []byte{}
	f.loaded = true
}

// ensureLoaded downloads the object into the buffer once. With create set a
// missing object loads as empty content.
func (f *File) ensureLoaded(ctx context.Context, create bool) error {
	if f.loaded {
		return nil
	}
	data, err := f.store.Download(ctx, f.loc.name)
	if err != nil {
		if !create || !errors.IsNotFound(err) {
			return err
		}
		data = []byte{}
	}
	f.buffer = data
	f.loaded = true
	return nil
}

func (f *File) errorf(code errors.ErrorCode, op, message string) error {
	return errors.NewError(code, message).
		WithComponent(component).WithOperation(op).WithPath(f.path).
		WithContext(errors.ContextMode, f.mode.String())
}

func (f *File) checkOpen(op string) error {
	if f.closed {
		return f.errorf(errors.ErrCodeInvalidState, op, "file is closed")
	}
	return nil
}

// Read returns up to n bytes at the pointer and advances it. At the end of
// the content it returns (nil, io.EOF).
func (f *File) Read(ctx context.Context, n int) ([]byte, error) {
	if err := f.checkOpen("read"); err != nil {
		return nil, err
	}
	if !f.mode.CanRead() {
		return nil, f.errorf(errors.ErrCodePermissionDenied, "read", "file not opened for reading")
	}
	if n < 0 {
		return nil, f.errorf(errors.ErrCodeValidationFailed, "read", "negative read size")
	}
	if n == 0 {
		return []byte{}, nil
	}

	if !f.loaded && f.fs.opts.MaterializeAfterReads > 0 && f.partialReads >= f.fs.opts.MaterializeAfterReads {
		if err := f.ensureLoaded(ctx, false); err != nil {
			return nil, err
		}
	}

	if f.loaded {
		if f.pointer >= int64(len(f.buffer)) {
			return nil, io.EOF
		}
		end := min(f.pointer+int64(n), int64(len(f.buffer)))
		out := make([]byte, end-f.pointer)
		copy(out, f.buffer[f.pointer:end])
		f.pointer = end
		return out, nil
	}

	if f.sizeKnown && f.pointer >= f.size {
		return nil, io.EOF
	}
	data, err := f.store.GetRange(ctx, f.loc.name, f.pointer, f.pointer+int64(n)-1)
	if err != nil {
		return nil, err
	}
	f.partialReads++
	if len(data) == 0 {
		return nil, io.EOF
	}
	f.pointer += int64(len(data))
	return data, nil
}

// Write stores p at the pointer, or at the end of the content in append
// modes. Gaps past the end are zero-filled. The pointer advances by len(p)
// except in append modes.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if err := f.checkOpen("write"); err != nil {
		return 0, err
	}
	if !f.mode.CanWrite() {
		return 0, f.errorf(errors.ErrCodePermissionDenied, "write", "file not opened for writing")
	}
	if err := f.ensureLoaded(ctx, true); err != nil {
		return 0, err
	}

	offset := f.pointer
	if f.mode.Appends() {
		offset = int64(len(f.buffer))
	}
	end := offset + int64(len(p))
	if end > f.fs.opts.MaxFileSize {
		return 0, f.errorf(errors.ErrCodeValidationFailed, "write", "write would exceed the maximum file size")
	}
	if end > int64(len(f.buffer)) {
		f.resize(end)
	}
	copy(f.buffer[offset:], p)

	if !f.mode.Appends() {
		f.pointer = offset + int64(len(p))
	}
	f.dirty = true
	return len(p), nil
}

// Seek sets the pointer. Mode "a" ignores seeks and reports the current
// pointer. io.SeekEnd needs a known size.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.checkOpen("seek"); err != nil {
		return 0, err
	}
	if f.mode == ModeAppend {
		return f.pointer, nil
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pointer
	case io.SeekEnd:
		size, ok := f.knownSize()
		if !ok {
			return 0, errors.NewUnsupportedError("seek from end with unknown size").
				WithComponent(component).WithPath(f.path)
		}
		base = size
	default:
		return 0, f.errorf(errors.ErrCodeValidationFailed, "seek", "invalid whence")
	}

	target := base + offset
	if target < 0 {
		return 0, f.errorf(errors.ErrCodeValidationFailed, "seek", "negative position")
	}
	f.pointer = target
	return target, nil
}

// Tell returns the pointer.
func (f *File) Tell() int64 { return f.pointer }

// EOF reports whether the pointer is at or past the known end. With an
// unknown size it reports false.
func (f *File) EOF() bool {
	size, ok := f.knownSize()
	return ok && f.pointer >= size
}

func (f *File) knownSize() (int64, bool) {
	if f.loaded {
		return int64(len(f.buffer)), true
	}
	return f.size, f.sizeKnown
}

// Truncate resizes the content to size, zero-filling when growing. The
// change reaches the store on Flush.
func (f *File) Truncate(ctx context.Context, size int64) error {
	if err := f.checkOpen("truncate"); err != nil {
		return err
	}
	if !f.mode.CanWrite() {
		return f.errorf(errors.ErrCodePermissionDenied, "truncate", "file not opened for writing")
	}
	if size < 0 {
		return f.errorf(errors.ErrCodeValidationFailed, "truncate", "negative size")
	}
	if size > f.fs.opts.MaxFileSize {
		return f.errorf(errors.ErrCodeValidationFailed, "truncate", "size exceeds the maximum file size")
	}
	if err := f.ensureLoaded(ctx, true); err != nil {
		return err
	}

	f.resize(size)
	f.dirty = true
	return nil
}

func (f *File) resize(size int64) {
	switch {
	case size < int64(len(f.buffer)):
		f.buffer = f.buffer[:size]
	case size > int64(len(f.buffer)):
		if size <= int64(cap(f.buffer)) {
			grown := f.buffer[:size]
			clear(grown[len(f.buffer):])
			f.buffer = grown
		} else {
			f.buffer = append(f.buffer, make([]byte, size-int64(len(f.buffer)))...)
		}
	}
}

// Flush uploads the buffer when it has unsaved changes. Handles that cannot
// write or were never written do nothing.
func (f *File) Flush(ctx context.Context) error {
	if err := f.checkOpen("flush"); err != nil {
		return err
	}
	if !f.mode.CanWrite() || !f.dirty {
		return nil
	}

	if err := f.store.Upload(ctx, f.loc.name, f.buffer, true); err != nil {
		return err
	}
	f.dirty = false
	f.fs.invalidate(f.loc)
	f.fs.logger.Debug("flushed", "path", f.loc.key(), "size", len(f.buffer))
	return nil
}

// Close flushes and releases the handle. If the flush fails the handle
// stays open so the caller can retry.
func (f *File) Close(ctx context.Context) error {
	if err := f.Flush(ctx); err != nil {
		return err
	}
	f.closed = true
	f.buffer = nil
	return nil
}

// Stat returns the object's metadata with the size of the local buffer
// when one is loaded. An object that exists only in the buffer reports the
// current time.
func (f *File) Stat(ctx context.Context) (*types.StatEntry, error) {
	if err := f.checkOpen("stat"); err != nil {
		return nil, err
	}

	entry, err := f.fs.stat(ctx, f.loc)
	if err != nil {
		if !f.loaded || !errors.IsNotFound(err) {
			return nil, err
		}
		now := f.fs.clock.Now()
		entry = &types.StatEntry{Created: now, Modified: now}
	}
	if f.loaded {
		entry.Size = int64(len(f.buffer))
	}
	return entry, nil
}

// Lock reports that byte-range locking is unavailable.
func (f *File) Lock(operation int) bool { return false }

// Cast reports that the handle has no underlying OS stream.
func (f *File) Cast(as int) bool { return false }

// SetOption rejects socket-level tuning.
func (f *File) SetOption(option, arg1, arg2 int) error {
	return errors.NewUnsupportedError("set option").WithComponent(component).WithPath(f.path)
}
