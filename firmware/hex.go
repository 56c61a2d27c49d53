package firmware

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/marcinbor85/gohex"
)

const (
	hexRecordData            = 0x00
	hexRecordExtendedSegment = 0x02
	hexRecordExtendedLinear  = 0x04
	hexLineLength            = 16
)

func parseHex(path string) ([]byte, uint32, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	payload, address, err := HexToBin(f)
	if err != nil {
		return nil, 0, &ParseError{Format: FormatHex, Path: path, Err: err}
	}
	return payload, address, nil
}

// Convert Intel HEX into one contiguous binary starting at the lowest data
// address. Holes between records are filled with 0xFF (erased flash).
func HexToBin(r io.Reader) ([]byte, uint32, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return nil, 0, err
	}
	// gohex merges and sorts segments, so ordering has to be checked on the
	// records themselves
	if err := checkRecordOrder(bytes.NewReader(raw)); err != nil {
		return nil, 0, err
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, 0, ErrEmptyPayload
	}
	start := segments[0].Address
	end := start
	for _, s := range segments {
		if s.Address < start {
			start = s.Address
		}
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}
	if end-start > MaxImageSpan {
		return nil, 0, fmt.Errorf("%w: records span 0x%08x-0x%08x", ErrSpanTooLarge, start, end)
	}
	return mem.ToBinary(start, end-start, 0xFF), start, nil
}

// Write the given binary as Intel HEX, loaded at address.
func BinToHex(bin []byte, address uint32, w io.Writer) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(address, bin); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, hexLineLength)
}

// Data records must only move forward through the address space. The file
// has already been validated, so anything that doesn't look like a record
// is simply skipped here.
func checkRecordOrder(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var base, next uint32
	seen := false
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if len(line) < 11 || line[0] != ':' {
			continue
		}
		record, err := hex.DecodeString(line[1:])
		if err != nil || len(record) < 5 {
			continue
		}
		length := uint32(record[0])
		offset := uint32(binary.BigEndian.Uint16(record[1:3]))
		data := record[4 : len(record)-1]
		switch record[3] {
		case hexRecordData:
			address := base + offset
			if seen && address < next {
				return fmt.Errorf("%w: line %d writes 0x%08x, previous data ends at 0x%08x",
					ErrRecordOrder, lineNum, address, next)
			}
			seen = true
			next = address + length
		case hexRecordExtendedSegment:
			if len(data) >= 2 {
				base = uint32(binary.BigEndian.Uint16(data)) << 4
			}
		case hexRecordExtendedLinear:
			if len(data) >= 2 {
				base = uint32(binary.BigEndian.Uint16(data)) << 16
			}
		}
	}
	return scanner.Err()
}
