package firmware

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileNotReadable = errors.New("firmware file not readable")
	ErrFileOpenFailed  = errors.New("failed to open firmware file")

	// Format specific failures, always wrapped in a ParseError
	ErrEmptyPayload   = errors.New("no payload data")
	ErrRecordOrder    = errors.New("data records out of order")
	ErrBadSignature   = errors.New("bad signature")
	ErrLengthMismatch = errors.New("length mismatch")
	ErrBadCRC         = errors.New("crc mismatch")
	ErrOverlap        = errors.New("overlapping data")
	ErrSpanTooLarge   = errors.New("payload spans more than the largest flash")
)

// ParseError is returned when a format plugin rejects the content of a file.
type ParseError struct {
	Format Format
	Path   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: invalid %s file: %s", e.Path, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
