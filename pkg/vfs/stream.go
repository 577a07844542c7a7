package vfs

import (
	"context"
	"io"
)

// Stream adapts a File to the io interfaces, issuing every call under ctx.
type Stream struct {
	f   *File
	ctx context.Context
}

var _ io.ReadWriteSeeker = (*Stream)(nil)
var _ io.Closer = (*Stream)(nil)

// Stream returns an io adapter over f bound to ctx.
func (f *File) Stream(ctx context.Context) *Stream {
	return &Stream{f: f, ctx: ctx}
}

func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := s.f.Read(s.ctx, len(p))
	n := copy(p, data)
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	return s.f.Write(s.ctx, p)
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

func (s *Stream) Close() error {
	return s.f.Close(s.ctx)
}
