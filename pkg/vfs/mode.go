package vfs

import (
	"strings"

	"github.com/swiftfs/swiftfs/pkg/errors"
)

// Mode is an fopen-style open mode.
type Mode int

const (
	ModeRead Mode = iota
	ModeReadWrite
	ModeWrite
	ModeWriteRead
	ModeAppend
	ModeAppendRead
	ModeExclusive
	ModeExclusiveRead
	ModeCreate
	ModeCreateRead
)

var modeNames = map[Mode]string{
	ModeRead:          "r",
	ModeReadWrite:     "r+",
	ModeWrite:         "w",
	ModeWriteRead:     "w+",
	ModeAppend:        "a",
	ModeAppendRead:    "a+",
	ModeExclusive:     "x",
	ModeExclusiveRead: "x+",
	ModeCreate:        "c",
	ModeCreateRead:    "c+",
}

// ParseMode parses "r", "w+", "ab" and the like. The binary and text flags
// b and t are accepted and ignored.
func ParseMode(s string) (Mode, error) {
	normalized := strings.NewReplacer("b", "", "t", "").Replace(s)
	for mode, name := range modeNames {
		if name == normalized {
			return mode, nil
		}
	}
	return 0, errors.Newf(errors.ErrCodeValidationFailed, "invalid open mode %q", s).
		WithComponent(component).WithOperation("open")
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// CanRead reports whether reads are allowed.
func (m Mode) CanRead() bool {
	switch m {
	case ModeRead, ModeReadWrite, ModeWriteRead, ModeAppend, ModeAppendRead,
		ModeExclusiveRead, ModeCreateRead:
		return true
	case ModeWrite, ModeExclusive, ModeCreate:
		return false
	}
	return false
}

// CanWrite reports whether writes are allowed.
func (m Mode) CanWrite() bool {
	switch m {
	case ModeReadWrite, ModeWrite, ModeWriteRead, ModeAppend, ModeAppendRead,
		ModeExclusive, ModeExclusiveRead, ModeCreate, ModeCreateRead:
		return true
	case ModeRead:
		return false
	}
	return false
}

// Appends reports whether writes always target the end of the content.
func (m Mode) Appends() bool {
	return m == ModeAppend || m == ModeAppendRead
}
