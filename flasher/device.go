package flasher

import (
	"io"
)

// Called after each chunk is written, with the bytes written so far
type ProgressFunc func(current, total int)

// Device is an open bootloader session. Implementations own the transport
// and any chunking; errors may implement Coder to report a result code.
type Device interface {
	PrepareFlash() error
	ChipErase() error
	// Erase the inclusive byte range [start, end]
	FlashErase(start, end uint32) error
	FlashWrite(r io.Reader, offset uint32, length int, progress ProgressFunc) error
	ProgramCheck() error
	Reset() error
	Close() error
}

// Opener connects to a device. An empty port means search for one.
type Opener interface {
	Open(port string, chip string, baud int) (Device, error)
}

// Adapter so plain functions can act as an Opener
type OpenerFunc func(port string, chip string, baud int) (Device, error)

func (f OpenerFunc) Open(port string, chip string, baud int) (Device, error) {
	return f(port, chip, baud)
}
