package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

// Where the build tooling maps flash into the address space. Images linked
// against this base are rewritten to plain flash offsets.
const FlashMapAddress = 0x23000000

type Format int

const (
	FormatBin Format = iota + 1
	FormatHex
	FormatDfu
)

func (f Format) String() string {
	switch f {
	case FormatBin:
		return "bin"
	case FormatHex:
		return "hex"
	case FormatDfu:
		return "dfu"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// A parser pulls the payload and its absolute load address out of one
// container format. It must not know about any other format.
type parser func(path string) ([]byte, uint32, error)

var formatsByExtension = map[string]Format{
	"bin": FormatBin,
	"hex": FormatHex,
	"dfu": FormatDfu,
}

var parsers = map[Format]parser{
	FormatBin: parseBin,
	FormatHex: parseHex,
	FormatDfu: parseDfu,
}

// Image is a firmware payload reduced from its container, along with where
// it goes in flash.
type Image struct {
	Path            string
	Format          Format
	Payload         []byte
	Address         uint32 // As declared by the container
	FlashOffset     uint32 // Always relative to flash start
	NeedsBootStruct bool   // Placed at offset 0, so a boot header must go in front of it
}

func (img *Image) Len() int {
	return len(img.Payload)
}

// The extension of the base filename without the dot. Names with no dot, or
// whose only dot is the first character (like ".dfu"), have no extension.
func FileExtension(path string) string {
	base := filepath.Base(path)
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return ""
	}
	return base[dot+1:]
}

// Figure out the container format purely from the file extension (any case).
func FormatFromPath(path string) (Format, error) {
	ext := FileExtension(path)
	format, ok := formatsByExtension[strings.ToLower(ext)]
	if !ok {
		return 0, fmt.Errorf("%w: %q (expected .bin, .hex or .dfu)", ErrInvalidFileType, ext)
	}
	return format, nil
}

// Convert an absolute address to a flash offset. Addresses below the flash
// map are already offsets.
func NormalizeAddress(address uint32) uint32 {
	if address >= FlashMapAddress {
		return address - FlashMapAddress
	}
	return address
}

// Parse the firmware file at path into a normalized image. The format is
// selected by extension; a failing parser is terminal and no normalization
// happens in that case.
func Parse(path string) (*Image, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotReadable, err)
	}
	glog.V(1).Infof("Input file %s identified as a .%s file", path, format)

	payload, address, err := parsers[format](path)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, &ParseError{Format: format, Path: path, Err: ErrEmptyPayload}
	}

	img := &Image{
		Path:        path,
		Format:      format,
		Payload:     payload,
		Address:     address,
		FlashOffset: NormalizeAddress(address),
	}
	img.NeedsBootStruct = img.FlashOffset == 0
	glog.V(1).Infof("%s: %d bytes @ 0x%08x -> flash offset 0x%x (boot struct: %t)",
		path, img.Len(), img.Address, img.FlashOffset, img.NeedsBootStruct)
	return img, nil
}

// Open a firmware file for one of the parsers, mapping failure to the
// common open error.
func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileOpenFailed, err)
	}
	return f, nil
}
