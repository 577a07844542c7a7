package swift

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/swiftfs/swiftfs/internal/circuit"
	"github.com/swiftfs/swiftfs/internal/swifttest"
	"github.com/swiftfs/swiftfs/pkg/auth"
	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/retry"
)

const testContainer = "media_uploads"

type ClientTestSuite struct {
	suite.Suite
	srv     *swifttest.Server
	session *auth.Session
	client  *Client
	ctx     context.Context
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.srv = swifttest.NewServer(s.T(), nil)
	s.srv.CreateContainer(testContainer)

	session, err := auth.NewSession(auth.Config{Credentials: s.srv.Credentials()})
	s.Require().NoError(err)
	s.session = session

	client, err := NewClient(session, Config{Container: testContainer})
	s.Require().NoError(err)
	s.client = client
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) TestRoundTrip() {
	contents := [][]byte{
		[]byte("hello world"),
		{},
		bytes.Repeat([]byte{0x00, 0xff, 0x10}, 4096),
	}

	for i, content := range contents {
		name := fmt.Sprintf("dir/object-%d.bin", i)
		s.Require().NoError(s.client.Upload(s.ctx, name, content, true))

		got, err := s.client.Download(s.ctx, name)
		s.Require().NoError(err)
		s.Equal(len(content), len(got))
		s.True(bytes.Equal(content, got))
	}
}

func (s *ClientTestSuite) TestUploadSendsETag() {
	s.Require().NoError(s.client.Upload(s.ctx, "a.txt", []byte("abc"), false))

	obj, ok := s.srv.Object(testContainer, "a.txt")
	s.Require().True(ok)
	s.Equal("abc", string(obj.Data))
	s.Equal("text/plain; charset=utf-8", obj.ContentType)

	info, err := s.client.Head(s.ctx, "a.txt")
	s.Require().NoError(err)
	s.Equal("900150983cd24fb0d6963f7d28e17f72", info.ETag)
}

func (s *ClientTestSuite) TestUploadStream() {
	err := s.client.UploadStream(s.ctx, "stream.bin", strings.NewReader("streamed"), -1)
	s.Require().NoError(err)

	got, err := s.client.Download(s.ctx, "stream.bin")
	s.Require().NoError(err)
	s.Equal("streamed", string(got))
}

func (s *ClientTestSuite) TestExists() {
	s.srv.PutObject(testContainer, "present", []byte("x"))

	ok, err := s.client.Exists(s.ctx, "present")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.client.Exists(s.ctx, "absent")
	s.Require().NoError(err)
	s.False(ok)

	s.srv.FailNext(http.MethodHead, http.StatusInternalServerError)
	_, err = s.client.Exists(s.ctx, "present")
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.ErrCodeNetworkError))
	s.Equal(http.StatusInternalServerError, errors.HTTPStatusOf(err))
}

func (s *ClientTestSuite) TestDownloadNotFound() {
	_, err := s.client.Download(s.ctx, "missing.txt")
	s.Require().Error(err)
	s.True(errors.IsNotFound(err))
	s.Contains(err.Error(), "missing.txt")
}

func (s *ClientTestSuite) TestIdempotentDelete() {
	s.srv.PutObject(testContainer, "doomed", []byte("x"))

	deleted, err := s.client.Delete(s.ctx, "doomed")
	s.Require().NoError(err)
	s.True(deleted)

	deleted, err = s.client.Delete(s.ctx, "doomed")
	s.Require().NoError(err)
	s.False(deleted)

	deleted, err = s.client.Delete(s.ctx, "never-existed")
	s.Require().NoError(err)
	s.False(deleted)
}

func (s *ClientTestSuite) TestDeleteFailurePropagates() {
	s.srv.PutObject(testContainer, "x", nil)
	s.srv.FailNext(http.MethodDelete, http.StatusConflict)

	_, err := s.client.Delete(s.ctx, "x")
	s.Require().Error(err)
	s.Equal(http.StatusConflict, errors.HTTPStatusOf(err))
}

func (s *ClientTestSuite) TestPagination() {
	var all []string
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("n%02d", i)
		all = append(all, name)
		s.srv.PutObject(testContainer, name, []byte(name))
	}
	s.srv.PutObject(testContainer, "other", nil)

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"limit below total", 3, all[:3]},
		{"limit one", 1, all[:1]},
		{"limit equal to total", 7, all},
		{"limit above total", 50, all},
		{"no limit", 0, all},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			names, err := s.client.ListObjectNames(s.ctx, "n", tt.limit)
			s.Require().NoError(err)
			s.Equal(tt.want, names)
		})
	}
}

func (s *ClientTestSuite) TestPaginationFollowsMarkers() {
	for i := 0; i < 10; i++ {
		s.srv.PutObject(testContainer, fmt.Sprintf("p/%d", i), nil)
	}

	before := s.srv.ListPages()
	names, err := s.client.List(s.ctx, ListOptions{Prefix: "p/", PageSize: 3})
	s.Require().NoError(err)
	s.Len(names, 10)

	seen := map[string]bool{}
	for _, n := range names {
		s.False(seen[n], "duplicate %s", n)
		seen[n] = true
	}
	// 3+3+3+1 then an empty page.
	s.Equal(5, s.srv.ListPages()-before)
}

func (s *ClientTestSuite) TestListEndMarker() {
	for _, n := range []string{"a", "b", "c", "d"} {
		s.srv.PutObject(testContainer, n, nil)
	}

	names, err := s.client.List(s.ctx, ListOptions{Marker: "a", EndMarker: "d"})
	s.Require().NoError(err)
	s.Equal([]string{"b", "c"}, names)
}

func (s *ClientTestSuite) TestListEmptyContainer() {
	names, err := s.client.ListObjectNames(s.ctx, "", 0)
	s.Require().NoError(err)
	s.Empty(names)
}

func (s *ClientTestSuite) TestCount() {
	for i := 0; i < 4; i++ {
		s.srv.PutObject(testContainer, fmt.Sprintf("o%d", i), nil)
	}

	count, err := s.client.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(4), count)
}

func (s *ClientTestSuite) TestHeadContainerRoot() {
	s.srv.PutObject(testContainer, "o", nil)

	info, err := s.client.Head(s.ctx, "")
	s.Require().NoError(err)
	s.True(info.Container)
	s.True(info.IsDir())
	s.Equal(int64(1), info.ObjectCount)
}

func (s *ClientTestSuite) TestDirectoryMarker() {
	s.Require().NoError(s.client.PutDirectoryMarker(s.ctx, "photos"))

	info, err := s.client.Head(s.ctx, "photos")
	s.Require().NoError(err)
	s.True(info.DirectoryMarker)
	s.False(info.Container)
	s.Equal(int64(0), info.Size)
}

func (s *ClientTestSuite) TestHeadMetadata() {
	s.srv.PutObject(testContainer, "meta.txt", []byte("12345"))

	info, err := s.client.Head(s.ctx, "meta.txt")
	s.Require().NoError(err)
	s.Equal(int64(5), info.Size)
	s.False(info.LastModified.IsZero())
	s.False(info.Created.IsZero())
	s.False(info.IsDir())
}

func (s *ClientTestSuite) TestGetRange() {
	s.srv.PutObject(testContainer, "r", []byte("0123456789"))

	tests := []struct {
		name       string
		start, end int64
		want       string
	}{
		{"head", 0, 3, "0123"},
		{"middle", 4, 5, "45"},
		{"clamped", 8, 20, "89"},
		{"past end", 10, 12, ""},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.client.GetRange(s.ctx, "r", tt.start, tt.end)
			s.Require().NoError(err)
			s.Equal(tt.want, string(got))
		})
	}

	_, err := s.client.GetRange(s.ctx, "r", 5, 2)
	s.True(errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func (s *ClientTestSuite) TestGetRangeWhenStoreIgnoresRange() {
	s.srv.PutObject(testContainer, "r", []byte("0123456789"))
	s.srv.IgnoreRange = true

	got, err := s.client.GetRange(s.ctx, "r", 2, 4)
	s.Require().NoError(err)
	s.Equal("234", string(got))

	got, err = s.client.GetRange(s.ctx, "r", 11, 14)
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *ClientTestSuite) TestUploadArchive() {
	dir := s.T().TempDir()
	archive := filepath.Join(dir, "bundle.tar")
	s.Require().NoError(os.WriteFile(archive, []byte("tar-bytes"), 0o600))

	result, err := s.client.UploadArchive(s.ctx, archive, ArchiveTar, "unpacked")
	s.Require().NoError(err)
	s.Equal("201 Created", result.ResponseStatus)

	uploads := s.srv.Archives()
	s.Require().Len(uploads, 1)
	s.Equal("unpacked", uploads[0].Path)
	s.Equal("tar", uploads[0].Format)
	s.Equal(testContainer, uploads[0].Container)
	s.Equal("tar-bytes", string(uploads[0].Body))

	_, err = s.client.UploadArchive(s.ctx, archive, ArchiveTarGz, "")
	s.Require().NoError(err)
	s.Equal("", s.srv.Archives()[1].Path)
}

func (s *ClientTestSuite) TestUploadArchiveValidation() {
	dir := s.T().TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	s.Require().NoError(os.WriteFile(archive, []byte("zip"), 0o600))

	before := s.srv.TotalRequests()

	_, err := s.client.UploadArchive(s.ctx, archive, ArchiveFormat("zip"), "")
	s.True(errors.IsCode(err, errors.ErrCodeValidationFailed))
	s.Contains(err.Error(), "tar, tar.gz, tar.bz2")

	_, err = s.client.UploadArchive(s.ctx, dir, ArchiveTar, "")
	s.True(errors.IsCode(err, errors.ErrCodeValidationFailed))

	_, err = s.client.UploadArchive(s.ctx, filepath.Join(dir, "missing.tar"), ArchiveTar, "")
	s.True(errors.IsCode(err, errors.ErrCodeValidationFailed))

	s.Equal(before, s.srv.TotalRequests())
}

func (s *ClientTestSuite) TestNoAutomaticRetry() {
	s.srv.FailNext(http.MethodGet, http.StatusServiceUnavailable)
	s.srv.PutObject(testContainer, "x", []byte("x"))

	before := s.srv.Requests(http.MethodGet)
	_, err := s.client.Download(s.ctx, "x")
	s.Require().Error(err)
	s.Equal(1, s.srv.Requests(http.MethodGet)-before)

	metrics := s.client.GetMetrics()
	s.Equal(int64(1), metrics.Errors)
	s.NotEmpty(metrics.LastError)
}

func (s *ClientTestSuite) TestUnauthorizedInvalidatesSession() {
	s.srv.PutObject(testContainer, "x", []byte("x"))
	_, err := s.client.Download(s.ctx, "x")
	s.Require().NoError(err)

	s.srv.FailNext(http.MethodGet, http.StatusUnauthorized)
	_, err = s.client.Download(s.ctx, "x")
	s.Require().Error(err)

	_, err = s.client.Download(s.ctx, "x")
	s.Require().NoError(err)
	s.Equal(int64(2), s.session.Authentications())
}

func (s *ClientTestSuite) TestAuthenticatedClient() {
	s.srv.PutObject(testContainer, "raw", []byte("raw body"))
	endpoint, err := s.session.Endpoint(s.ctx)
	s.Require().NoError(err)

	hc := s.client.AuthenticatedClient(&http.Client{Timeout: 5 * time.Second})
	s.Equal(5*time.Second, hc.Timeout)

	resp, err := hc.Get(endpoint + "/" + testContainer + "/raw")
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("raw body", string(body))
}

func TestAuthenticatedClient_ResolvesTokenPerRequest(t *testing.T) {
	clock := swifttest.NewClock(time.Unix(1700000000, 0))
	srv := swifttest.NewServer(t, clock)
	srv.TokenTTL = time.Minute
	srv.PutObject(testContainer, "o", []byte("o"))

	session, err := auth.NewSession(auth.Config{Credentials: srv.Credentials(), Clock: clock})
	require.NoError(t, err)
	client, err := NewClient(session, Config{Container: testContainer})
	require.NoError(t, err)

	hc := client.AuthenticatedClient(nil)
	url := srv.StorageURL() + "/" + testContainer + "/o"

	for i := 0; i < 2; i++ {
		resp, err := hc.Head(url)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		clock.Advance(2 * time.Minute)
	}
	assert.Equal(t, int64(2), session.Authentications())
}

func TestClient_OptInRetry(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	srv.PutObject(testContainer, "x", []byte("payload"))
	srv.FailNext(http.MethodGet, http.StatusServiceUnavailable)

	session, err := auth.NewSession(auth.Config{Credentials: srv.Credentials()})
	require.NoError(t, err)
	client, err := NewClient(session, Config{
		Container: testContainer,
		Retry:     retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond},
	})
	require.NoError(t, err)

	got, err := client.Download(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.Equal(t, 2, srv.Requests(http.MethodGet))
}

func TestClient_BreakerIsPerContainer(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	srv.PutObject("media", "x", []byte("payload"))
	srv.PutObject("logs", "x", []byte("line"))
	srv.FailNext(http.MethodGet, http.StatusServiceUnavailable)
	srv.FailNext(http.MethodGet, http.StatusBadGateway)

	session, err := auth.NewSession(auth.Config{Credentials: srv.Credentials()})
	require.NoError(t, err)
	newClient := Factory(session, Config{
		Breakers: circuit.NewManager(circuit.Config{FailureThreshold: 2, Timeout: time.Hour}),
	})
	media, err := newClient("media")
	require.NoError(t, err)
	logs, err := newClient("logs")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err = media.Download(ctx, "x")
		require.Error(t, err)
	}
	require.Equal(t, 2, srv.Requests(http.MethodGet))

	_, err = media.Download(ctx, "x")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetworkError))
	assert.ErrorIs(t, err, circuit.ErrOpenState)
	assert.Equal(t, 2, srv.Requests(http.MethodGet))

	got, err := logs.Download(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "line", string(got))
}

func TestNewClient_Validation(t *testing.T) {
	srv := swifttest.NewServer(t, nil)
	session, err := auth.NewSession(auth.Config{Credentials: srv.Credentials()})
	require.NoError(t, err)

	_, err = NewClient(session, Config{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	_, err = NewClient(session, Config{Container: "a/b"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	_, err = NewClient(nil, Config{Container: "a"})
	assert.Error(t, err)
}

func TestObjectURLEscapesSegments(t *testing.T) {
	c := &Client{container: "my container"}
	assert.Equal(t, "https://s/v1/AUTH_t/my%20container/dir/a%20b%3F.txt",
		c.objectURL("https://s/v1/AUTH_t", "dir/a b?.txt"))
	assert.Equal(t, "https://s/v1/AUTH_t/my%20container/", c.objectURL("https://s/v1/AUTH_t", ""))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"1700000000.12345", time.Unix(1700000000, 123450000), true},
		{"1700000000", time.Unix(1700000000, 0), true},
		{"", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseTimestamp(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.raw, got)
	}
}

func TestParseArchiveFormat(t *testing.T) {
	for _, f := range []string{"tar", "tar.gz", "tar.bz2"} {
		got, err := ParseArchiveFormat(f)
		require.NoError(t, err)
		assert.Equal(t, ArchiveFormat(f), got)
	}
	_, err := ParseArchiveFormat("tgz")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}
