package firmware

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
)

// DfuSe container layout (ST UM0391). Everything is little endian.
const (
	dfuPrefixSignature = "DfuSe"
	dfuTargetSignature = "Target"
	dfuSuffixSignature = "UFD"
	dfuVersion         = 0x01
	dfuSuffixLength    = 16
	dfuBcdDFU          = 0x011A
)

type dfuPrefix struct {
	Signature [5]byte
	Version   uint8
	ImageSize uint32 // Whole file minus the suffix
	Targets   uint8
}

type dfuTargetPrefix struct {
	Signature        [6]byte
	AlternateSetting uint8
	Named            uint32
	Name             [255]byte
	Size             uint32 // All elements including their headers
	Elements         uint32
}

type dfuElementHeader struct {
	Address uint32
	Size    uint32
}

type dfuSuffix struct {
	Device    uint16
	Product   uint16
	Vendor    uint16
	DFU       uint16
	Signature [3]byte
	Length    uint8
	CRC       uint32
}

type dfuElement struct {
	Address uint32
	Data    []byte
}

func parseDfu(path string) ([]byte, uint32, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	payload, address, err := DfuToBin(f)
	if err != nil {
		return nil, 0, &ParseError{Format: FormatDfu, Path: path, Err: err}
	}
	return payload, address, nil
}

// The suffix CRC is a plain CRC32 over everything before it, without the
// final inversion.
func dfuCRC(data []byte) uint32 {
	return ^crc32.ChecksumIEEE(data)
}

// Pull the image elements out of a DfuSe file and merge them into one
// binary starting at the lowest element address.
func DfuToBin(r io.Reader) ([]byte, uint32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	prefixLength := binary.Size(dfuPrefix{})
	if len(raw) < prefixLength+dfuSuffixLength {
		return nil, 0, fmt.Errorf("%w: file is only %d bytes", ErrLengthMismatch, len(raw))
	}

	var suffix dfuSuffix
	if err := binary.Read(bytes.NewReader(raw[len(raw)-dfuSuffixLength:]), binary.LittleEndian, &suffix); err != nil {
		return nil, 0, err
	}
	if string(suffix.Signature[:]) != dfuSuffixSignature {
		return nil, 0, fmt.Errorf("%w: suffix is %q", ErrBadSignature, suffix.Signature[:])
	}
	if suffix.Length != dfuSuffixLength {
		return nil, 0, fmt.Errorf("%w: suffix length %d", ErrLengthMismatch, suffix.Length)
	}
	if crc := dfuCRC(raw[:len(raw)-4]); crc != suffix.CRC {
		return nil, 0, fmt.Errorf("%w: expected 0x%08x, computed 0x%08x", ErrBadCRC, suffix.CRC, crc)
	}

	body := raw[:len(raw)-dfuSuffixLength]
	reader := bytes.NewReader(body)
	var prefix dfuPrefix
	if err := binary.Read(reader, binary.LittleEndian, &prefix); err != nil {
		return nil, 0, err
	}
	if string(prefix.Signature[:]) != dfuPrefixSignature {
		return nil, 0, fmt.Errorf("%w: prefix is %q", ErrBadSignature, prefix.Signature[:])
	}
	if prefix.Version != dfuVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrBadSignature, prefix.Version)
	}
	if int(prefix.ImageSize) != len(body) {
		return nil, 0, fmt.Errorf("%w: prefix says %d bytes, file has %d", ErrLengthMismatch, prefix.ImageSize, len(body))
	}

	var elements []dfuElement
	for t := 0; t < int(prefix.Targets); t++ {
		var target dfuTargetPrefix
		if err := binary.Read(reader, binary.LittleEndian, &target); err != nil {
			return nil, 0, fmt.Errorf("%w: target %d truncated", ErrLengthMismatch, t)
		}
		if string(target.Signature[:]) != dfuTargetSignature {
			return nil, 0, fmt.Errorf("%w: target %d is %q", ErrBadSignature, t, target.Signature[:])
		}
		size := 0
		for e := 0; e < int(target.Elements); e++ {
			var header dfuElementHeader
			if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
				return nil, 0, fmt.Errorf("%w: target %d element %d truncated", ErrLengthMismatch, t, e)
			}
			if int64(header.Size) > int64(reader.Len()) {
				return nil, 0, fmt.Errorf("%w: target %d element %d claims %d bytes, %d left",
					ErrLengthMismatch, t, e, header.Size, reader.Len())
			}
			data := make([]byte, header.Size)
			if _, err := io.ReadFull(reader, data); err != nil {
				return nil, 0, err
			}
			elements = append(elements, dfuElement{Address: header.Address, Data: data})
			size += binary.Size(header) + len(data)
		}
		if size != int(target.Size) {
			return nil, 0, fmt.Errorf("%w: target %d says %d bytes, elements hold %d",
				ErrLengthMismatch, t, target.Size, size)
		}
	}
	if reader.Len() != 0 {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes after targets", ErrLengthMismatch, reader.Len())
	}
	return mergeElements(elements)
}

// Lay the elements out by address, padding any holes with 0xFF.
func mergeElements(elements []dfuElement) ([]byte, uint32, error) {
	if len(elements) == 0 {
		return nil, 0, ErrEmptyPayload
	}
	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].Address < elements[j].Address
	})
	start := elements[0].Address
	last := elements[len(elements)-1]
	if span := uint64(last.Address) + uint64(len(last.Data)) - uint64(start); span > MaxImageSpan {
		return nil, 0, fmt.Errorf("%w: elements span %d bytes", ErrSpanTooLarge, span)
	}
	result := make([]byte, 0, int(last.Address-start)+len(last.Data))
	for _, e := range elements {
		end := start + uint32(len(result))
		if e.Address < end {
			return nil, 0, fmt.Errorf("%w: element at 0x%08x overlaps data ending at 0x%08x", ErrOverlap, e.Address, end)
		}
		result = append(result, MakePadding(int(e.Address-end))...)
		result = append(result, e.Data...)
	}
	return result, start, nil
}

// Wrap a binary into a single target, single element DfuSe file loaded at
// address.
func BinToDfu(bin []byte, address uint32, w io.Writer) error {
	prefix := dfuPrefix{Version: dfuVersion, Targets: 1}
	copy(prefix.Signature[:], dfuPrefixSignature)
	element := dfuElementHeader{Address: address, Size: uint32(len(bin))}
	target := dfuTargetPrefix{
		Size:     uint32(binary.Size(element) + len(bin)),
		Elements: 1,
	}
	copy(target.Signature[:], dfuTargetSignature)
	prefix.ImageSize = uint32(binary.Size(prefix) + binary.Size(target)) + target.Size
	suffix := dfuSuffix{
		Device:  0xFFFF,
		Product: 0xFFFF,
		Vendor:  0xFFFF,
		DFU:     dfuBcdDFU,
		Length:  dfuSuffixLength,
	}
	copy(suffix.Signature[:], dfuSuffixSignature)

	var buf bytes.Buffer
	for _, part := range []interface{}{prefix, target, element} {
		if err := binary.Write(&buf, binary.LittleEndian, part); err != nil {
			return err
		}
	}
	buf.Write(bin)
	if err := binary.Write(&buf, binary.LittleEndian, suffix); err != nil {
		return err
	}
	raw := buf.Bytes()
	binary.LittleEndian.PutUint32(raw[len(raw)-4:], dfuCRC(raw[:len(raw)-4]))
	_, err := w.Write(raw)
	return err
}
