package flasher

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/goblisp/goblisp/firmware"
)

const DefaultBaudRate = 460800

type Mode int

const (
	ModeSingleDownload Mode = iota + 1
	ModeChipErase
)

func (m Mode) String() string {
	switch m {
	case ModeSingleDownload:
		return "single download"
	case ModeChipErase:
		return "chip erase"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Config is everything the user can ask of a download, before validation.
type Config struct {
	Chip      string
	Port      string // Empty to search for the device
	Baud      int    // 0 for DefaultBaudRate
	Reset     bool
	ChipErase bool
	File      string
	Offset    *int64 // Nil to use the image's own flash offset
}

// Request is a validated download, ready for a device. Don't modify it after
// NewRequest returns.
type Request struct {
	Mode       Mode
	Chip       string
	Port       string
	Baud       int
	Offset     uint32
	Length     int
	ResetAfter bool
	Image      *firmware.Image
}

// Validate the configuration and load the firmware image. Nothing here talks
// to a device, so any error returned means no hardware was touched.
func NewRequest(config Config) (*Request, error) {
	if config.Baud < 0 {
		return nil, &ConfigError{Field: "baud rate", Reason: fmt.Sprintf("must not be negative (got %d)", config.Baud)}
	}
	if config.Chip == "" {
		return nil, &ConfigError{Field: "chip", Reason: "is required"}
	}
	req := &Request{
		Chip:       config.Chip,
		Port:       config.Port,
		Baud:       config.Baud,
		ResetAfter: config.Reset,
	}
	if req.Baud == 0 {
		req.Baud = DefaultBaudRate
	}

	// Chip erase wins over anything else that was asked for
	if config.ChipErase {
		if config.File != "" {
			glog.Warningf("Chip erase requested; ignoring firmware file %s", config.File)
		}
		req.Mode = ModeChipErase
		return req, nil
	}

	if config.File == "" {
		return nil, &ConfigError{Field: "firmware file", Reason: "is required unless doing a chip erase"}
	}
	img, err := firmware.Parse(config.File)
	if err != nil {
		return nil, err
	}
	offset := int64(img.FlashOffset)
	if config.Offset != nil {
		offset = *config.Offset
	}
	if offset < 0 {
		return nil, &ConfigError{Field: "offset", Reason: fmt.Sprintf("must not be negative (got %d)", offset)}
	}
	if offset+int64(img.Len()) > 1<<32 {
		return nil, &ConfigError{Field: "offset", Reason: fmt.Sprintf("0x%x plus %d bytes runs past the end of the address space", offset, img.Len())}
	}
	if img.NeedsBootStruct && offset != 0 {
		glog.V(1).Infof("Image would need a boot header but is being written at 0x%x", offset)
	}

	req.Mode = ModeSingleDownload
	req.Image = img
	req.Offset = uint32(offset)
	req.Length = img.Len()
	return req, nil
}

// The last byte this request writes, inclusive
func (r *Request) End() uint32 {
	return r.Offset + uint32(r.Length) - 1
}
