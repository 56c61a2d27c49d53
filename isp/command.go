package isp

import (
	"encoding/binary"
	"fmt"
)

const (
	CmdGetBootInfo       = 0x10
	CmdLoadBootHeader    = 0x11
	CmdLoadSegmentHeader = 0x17
	CmdLoadSegmentData   = 0x18
	CmdCheckImage        = 0x19
	CmdRunImage          = 0x1A
	CmdReset             = 0x21
	CmdFlashErase        = 0x30
	CmdFlashWrite        = 0x31
	CmdProgramCheck      = 0x3A
	CmdChipErase         = 0x3C
)

const (
	BootHeaderSize    = 176
	SegmentHeaderSize = 16
	// Largest payload the ROM takes per segment data frame
	SegmentChunkSize = 4080
	// Data bytes per flash write frame, not counting the address
	FlashChunkSize = 2048
	HandshakeByte  = 0x55
)

// USB variants listen for this before they drop into the bootloader
var UsbResetSequence = []byte("BOUFFALOLAB5555RESET\x00\x00")

var commandNames = map[byte]string{
	CmdGetBootInfo:       "get boot info",
	CmdLoadBootHeader:    "load boot header",
	CmdLoadSegmentHeader: "load segment header",
	CmdLoadSegmentData:   "load segment data",
	CmdCheckImage:        "check image",
	CmdRunImage:          "run image",
	CmdReset:             "reset",
	CmdFlashErase:        "flash erase",
	CmdFlashWrite:        "flash write",
	CmdProgramCheck:      "program check",
	CmdChipErase:         "chip erase",
}

func CommandName(cmd byte) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return fmt.Sprintf("command 0x%02x", cmd)
}

// Low byte of the sum of the length bytes and the payload
func Checksum(payload []byte) byte {
	length := len(payload)
	sum := byte(length) + byte(length>>8)
	for _, b := range payload {
		sum += b
	}
	return sum
}

// A full command frame: [cmd][checksum][len lo][len hi][payload]
func CommandFrame(cmd byte, payload []byte) []byte {
	frame := make([]byte, 4, 4+len(payload))
	frame[0] = cmd
	frame[1] = Checksum(payload)
	binary.LittleEndian.PutUint16(frame[2:], uint16(len(payload)))
	return append(frame, payload...)
}

// Both ends of the range are inclusive
func FlashErasePayload(start, end uint32) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload, start)
	binary.LittleEndian.PutUint32(payload[4:], end)
	return payload
}

func FlashWritePayload(address uint32, data []byte) []byte {
	payload := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(payload, address)
	return append(payload, data...)
}
