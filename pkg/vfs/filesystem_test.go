package vfs

import (
	"context"
	"io/fs"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/objectstore"
	"github.com/swiftfs/swiftfs/pkg/types"
)

func (s *FileTestSuite) TestStatDirectoryBit() {
	s.srv.PutObject(testContainer, "file.txt", []byte("12345"))
	s.Require().NoError(s.fs.Mkdir(s.ctx, "media/dir"))

	root, err := s.fs.Stat(s.ctx, "swift://media")
	s.Require().NoError(err)
	s.True(root.IsDir)
	s.True(root.Mode()&fs.ModeDir != 0)

	dir, err := s.fs.Stat(s.ctx, "media/dir")
	s.Require().NoError(err)
	s.True(dir.IsDir)

	file, err := s.fs.Stat(s.ctx, "media/file.txt")
	s.Require().NoError(err)
	s.False(file.IsDir)
	s.Equal(int64(5), file.Size)
	s.Equal(s.clock.Now().Unix(), file.Modified.Unix())
}

func (s *FileTestSuite) TestStatCacheTTL() {
	s.srv.PutObject(testContainer, "cached", []byte("x"))

	for i := 0; i < 3; i++ {
		_, err := s.fs.Stat(s.ctx, "media/cached")
		s.Require().NoError(err)
	}
	s.Equal(1, s.srv.Requests(http.MethodHead))

	s.clock.Advance(59 * time.Second)
	_, err := s.fs.Stat(s.ctx, "media/cached")
	s.Require().NoError(err)
	s.Equal(1, s.srv.Requests(http.MethodHead))

	s.clock.Advance(time.Second)
	_, err = s.fs.Stat(s.ctx, "media/cached")
	s.Require().NoError(err)
	s.Equal(2, s.srv.Requests(http.MethodHead))

	stats := s.fs.CacheStats()
	s.Equal(uint64(3), stats.Hits)
	s.Equal(uint64(2), stats.Misses)
}

func (s *FileTestSuite) TestStatTimeFallback() {
	s.srv.PutObject(testContainer, "bare", []byte("x"))
	s.srv.DropTimestamp = true
	s.srv.DropLastModified = true

	st, err := s.fs.Stat(s.ctx, "media/bare")
	s.Require().NoError(err)
	s.Equal(s.clock.Now(), st.Created)
	s.Equal(s.clock.Now(), st.Modified)
	s.Contains(s.logs.String(), "creation time unavailable")
	s.Contains(s.logs.String(), "modification time unavailable")
}

func (s *FileTestSuite) TestStatErrors() {
	_, err := s.fs.Stat(s.ctx, "media/missing")
	s.True(errors.IsNotFound(err))

	s.srv.PutObject(testContainer, "flaky", nil)
	s.srv.FailNext(http.MethodHead, http.StatusInternalServerError)
	_, err = s.fs.Stat(s.ctx, "media/flaky")
	s.True(errors.IsCode(err, errors.ErrCodeNetworkError))

	s.srv.FailNext(http.MethodHead, http.StatusInternalServerError)
	entry, ok := s.fs.StatQuiet(s.ctx, "media/flaky")
	s.False(ok)
	s.Nil(entry)

	entry, ok = s.fs.StatQuiet(s.ctx, "media/flaky")
	s.True(ok)
	s.NotNil(entry)
}

func (s *FileTestSuite) TestContainerRootRefusal() {
	before := s.srv.TotalRequests()

	for _, path := range []string{"swift://media", "media", "media/"} {
		s.True(errors.IsCode(s.fs.Unlink(s.ctx, path), errors.ErrCodeValidationFailed), path)
		s.True(errors.IsCode(s.fs.Mkdir(s.ctx, path), errors.ErrCodeValidationFailed), path)
		s.True(errors.IsCode(s.fs.Rmdir(s.ctx, path), errors.ErrCodeValidationFailed), path)
	}

	s.Equal(before, s.srv.TotalRequests())
}

func (s *FileTestSuite) TestUnlink() {
	s.srv.PutObject(testContainer, "doomed", []byte("x"))
	_, err := s.fs.Stat(s.ctx, "media/doomed")
	s.Require().NoError(err)

	s.Require().NoError(s.fs.Unlink(s.ctx, "swift://media/doomed"))
	_, ok := s.srv.Object(testContainer, "doomed")
	s.False(ok)

	_, err = s.fs.Stat(s.ctx, "media/doomed")
	s.True(errors.IsNotFound(err), "stat must not be served from a stale cache entry")

	s.Require().NoError(s.fs.Unlink(s.ctx, "media/never-existed"))
}

func (s *FileTestSuite) TestUnlinkDirectory() {
	s.Require().NoError(s.fs.Mkdir(s.ctx, "media/keep"))

	err := s.fs.Unlink(s.ctx, "media/keep")
	s.True(errors.IsCode(err, errors.ErrCodeIsDirectory))
	_, ok := s.srv.Object(testContainer, "keep")
	s.True(ok)
}

func (s *FileTestSuite) TestUnlinkPropagatesTransportErrors() {
	s.srv.PutObject(testContainer, "x", nil)
	s.srv.FailNext(http.MethodDelete, http.StatusForbidden)

	err := s.fs.Unlink(s.ctx, "media/x")
	s.Require().Error(err)
	s.Equal(http.StatusForbidden, errors.HTTPStatusOf(err))
}

func (s *FileTestSuite) TestMkdirRmdir() {
	s.Require().NoError(s.fs.Mkdir(s.ctx, "media/albums"))

	obj, ok := s.srv.Object(testContainer, "albums")
	s.Require().True(ok)
	s.True(obj.Directory)
	s.Equal("application/directory", obj.ContentType)
	s.Empty(obj.Data)

	st, err := s.fs.Stat(s.ctx, "media/albums")
	s.Require().NoError(err)
	s.True(st.IsDir)

	s.Require().NoError(s.fs.Rmdir(s.ctx, "media/albums"))
	_, ok = s.srv.Object(testContainer, "albums")
	s.False(ok)

	_, err = s.fs.Stat(s.ctx, "media/albums")
	s.True(errors.IsNotFound(err))
}

func (s *FileTestSuite) TestRmdirRequiresDirectory() {
	s.srv.PutObject(testContainer, "plain", []byte("x"))

	err := s.fs.Rmdir(s.ctx, "media/plain")
	s.True(errors.IsCode(err, errors.ErrCodeNotDirectory))
	_, ok := s.srv.Object(testContainer, "plain")
	s.True(ok)

	err = s.fs.Rmdir(s.ctx, "media/nothing")
	s.True(errors.IsCode(err, errors.ErrCodeNotDirectory))
}

func (s *FileTestSuite) TestUnsupportedPathOperations() {
	s.True(errors.IsCode(s.fs.Rename(s.ctx, "media/a", "media/b"), errors.ErrCodeUnsupportedOperation))
	s.True(errors.IsCode(s.fs.SetMetadata(s.ctx, "media/a", 0, nil), errors.ErrCodeUnsupportedOperation))
	s.Equal(0, s.srv.TotalRequests())
}

func (s *FileTestSuite) TestContainersGetSeparateStores() {
	s.srv.CreateContainer("logs")
	s.srv.PutObject("logs", "app.log", []byte("line"))

	st, err := s.fs.Stat(s.ctx, "swift://logs/app.log")
	s.Require().NoError(err)
	s.Equal(int64(4), st.Size)

	a, err := s.fs.Store("media")
	s.Require().NoError(err)
	b, err := s.fs.Store("logs")
	s.Require().NoError(err)
	again, err := s.fs.Store("media")
	s.Require().NoError(err)

	s.Equal("media", a.Container())
	s.Equal("logs", b.Container())
	s.Same(a, again)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	factory := func(string) (types.ObjectStore, error) { return nil, nil }
	_, err = New(factory, Options{MaterializeAfterReads: -1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestFileSystem_UsesRegistry(t *testing.T) {
	reg := objectstore.NewRegistry()
	require.NoError(t, reg.Register(types.BackendSwift, func(container string) (types.ObjectStore, error) {
		return nil, errors.NewError(errors.ErrCodeAuthenticationFailed, "no credentials")
	}))

	fsys, err := New(reg.Factory(types.BackendSwift), Options{})
	require.NoError(t, err)

	_, err = fsys.Open(context.Background(), "swift://media/a", "r")
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthenticationFailed))

	_, ok := fsys.StatQuiet(context.Background(), "media/a")
	assert.False(t, ok)
}
