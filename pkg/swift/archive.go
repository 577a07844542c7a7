package swift

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/swiftfs/swiftfs/pkg/errors"
)

// ArchiveFormat is a server-side extractable archive type.
type ArchiveFormat string

const (
	ArchiveTar    ArchiveFormat = "tar"
	ArchiveTarGz  ArchiveFormat = "tar.gz"
	ArchiveTarBz2 ArchiveFormat = "tar.bz2"
)

// ArchiveFormats lists the accepted formats.
var ArchiveFormats = []ArchiveFormat{ArchiveTar, ArchiveTarGz, ArchiveTarBz2}

// ParseArchiveFormat validates s.
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	for _, f := range ArchiveFormats {
		if string(f) == s {
			return f, nil
		}
	}

	supported := make([]string, len(ArchiveFormats))
	for i, f := range ArchiveFormats {
		supported[i] = string(f)
	}
	return "", errors.Newf(errors.ErrCodeValidationFailed,
		"unsupported archive format %q: supported formats %s", s, strings.Join(supported, ", ")).
		WithComponent(component).WithOperation("upload_archive")
}

// ArchiveResult is the store's extraction report. Fields stay zero when the
// store answers without a JSON report.
type ArchiveResult struct {
	FilesCreated   int        `json:"Number Files Created"`
	ResponseStatus string     `json:"Response Status"`
	ResponseBody   string     `json:"Response Body"`
	Errors         [][]string `json:"Errors"`
}

// UploadArchive streams the archive at path to uploadPath and asks the store
// to extract it there. The archive must be a regular file in one of ArchiveFormats.
func (c *Client) UploadArchive(ctx context.Context, path string, format ArchiveFormat, uploadPath string) (*ArchiveResult, error) {
	if _, err := ParseArchiveFormat(string(format)); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		sfErr := errors.Newf(errors.ErrCodeValidationFailed, "expecting %s to be a regular file", path).
			WithComponent(component).WithOperation("upload_archive")
		if err != nil {
			sfErr.WithCause(err)
		}
		return nil, sfErr
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	var open *os.File
	resp, err := c.do(ctx, &request{
		op:     "upload_archive",
		method: http.MethodPut,
		name:   uploadPath,
		query:  url.Values{"extract-archive": {string(format)}},
		header: header,
		body: func() (io.Reader, int64, error) {
			if open != nil {
				_ = open.Close()
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, 0, errors.NewError(errors.ErrCodeValidationFailed, "cannot open archive").WithCause(err)
			}
			open = f
			return f, info.Size(), nil
		},
	})
	if open != nil {
		_ = open.Close()
	}
	if err != nil {
		return nil, err
	}
	c.addBytes(info.Size(), 0)

	result := &ArchiveResult{}
	if len(resp.body) > 0 {
		if jerr := json.Unmarshal(resp.body, result); jerr != nil {
			c.logger.Debug("archive report is not json", "path", uploadPath, "error", jerr)
		}
	}
	if len(result.Errors) > 0 {
		c.logger.Warn("archive extraction reported errors", "path", uploadPath, "errors", len(result.Errors))
	}
	return result, nil
}
