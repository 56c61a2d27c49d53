package isp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/golang/glog"

	"github.com/goblisp/goblisp/flasher"
)

var ErrBadRAMImage = errors.New("bad RAM image")

type RAMSegment struct {
	Header []byte // Sent verbatim: destination, length, reserved, crc32 of the first 12 bytes
	Data   []byte
}

func (s *RAMSegment) Address() uint32 {
	return binary.LittleEndian.Uint32(s.Header)
}

// A bootable RAM image, laid out the way the ROM consumes it: a boot header
// then any number of segments, each a header followed by its data.
type RAMImage struct {
	BootHeader []byte
	Segments   []RAMSegment
}

func ParseRAMImage(raw []byte) (*RAMImage, error) {
	if len(raw) < BootHeaderSize+SegmentHeaderSize {
		return nil, fmt.Errorf("%w: only %d bytes", ErrBadRAMImage, len(raw))
	}
	image := &RAMImage{BootHeader: raw[:BootHeaderSize]}
	rest := raw[BootHeaderSize:]
	for len(rest) > 0 {
		if len(rest) < SegmentHeaderSize {
			return nil, fmt.Errorf("%w: %d stray bytes after segment %d", ErrBadRAMImage, len(rest), len(image.Segments))
		}
		header := rest[:SegmentHeaderSize]
		length := binary.LittleEndian.Uint32(header[4:])
		if crc := crc32.ChecksumIEEE(header[:12]); crc != binary.LittleEndian.Uint32(header[12:]) {
			return nil, fmt.Errorf("%w: segment %d header crc 0x%08x doesn't match", ErrBadRAMImage, len(image.Segments), crc)
		}
		rest = rest[SegmentHeaderSize:]
		if uint64(length) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: segment %d wants %d bytes, %d left", ErrBadRAMImage, len(image.Segments), length, len(rest))
		}
		image.Segments = append(image.Segments, RAMSegment{Header: header, Data: rest[:length]})
		rest = rest[length:]
	}
	return image, nil
}

func ReadRAMImage(path string) (*RAMImage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(flasher.CodeCantOpenFile, "load eflash loader", err)
	}
	image, err := ParseRAMImage(raw)
	if err != nil {
		return nil, newError(flasher.CodeAPIError, "load eflash loader", fmt.Errorf("%s: %w", path, err))
	}
	return image, nil
}

// Build a single segment RAM image around data that runs at address
func NewRAMImage(bootHeader []byte, address uint32, data []byte) *RAMImage {
	header := make([]byte, SegmentHeaderSize)
	binary.LittleEndian.PutUint32(header, address)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(data)))
	binary.LittleEndian.PutUint32(header[12:], crc32.ChecksumIEEE(header[:12]))
	return &RAMImage{
		BootHeader: bootHeader,
		Segments:   []RAMSegment{{Header: header, Data: data}},
	}
}

func (img *RAMImage) Bytes() []byte {
	result := append([]byte{}, img.BootHeader...)
	for _, s := range img.Segments {
		result = append(result, s.Header...)
		result = append(result, s.Data...)
	}
	return result
}

// Push a RAM image through the ROM and start it running.
func (d *Device) LoadRAMImage(image *RAMImage) error {
	if _, err := d.Command(CmdLoadBootHeader, image.BootHeader, false); err != nil {
		return err
	}
	for i, s := range image.Segments {
		glog.V(1).Infof("Loading RAM segment %d: %d bytes @ 0x%08x", i, len(s.Data), s.Address())
		if _, err := d.Command(CmdLoadSegmentHeader, s.Header, true); err != nil {
			return err
		}
		for sent := 0; sent < len(s.Data); {
			size := min(SegmentChunkSize, len(s.Data)-sent)
			if _, err := d.Command(CmdLoadSegmentData, s.Data[sent:sent+size], false); err != nil {
				return err
			}
			sent += size
		}
	}
	if _, err := d.Command(CmdCheckImage, nil, false); err != nil {
		return err
	}
	_, err := d.Command(CmdRunImage, nil, false)
	return err
}
