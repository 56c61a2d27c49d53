package isp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goblisp/goblisp/flasher"
)

type Chip struct {
	Name string
	// USB VID:PID of the chip's own USB bootloader, empty when it can only be
	// reached through an external UART bridge
	UsbVidPid string
	// The ROM can't program flash itself; the eflash loader has to be put in
	// RAM and run first
	NeedsLoader bool
	// Where the eflash loader is linked to run
	LoaderAddress uint32
	// Handshake bytes per baud; 0.003 means 3ms of 0x55 at 10 bits per byte
	HandshakeFactor float64
}

var (
	ChipBL60x = &Chip{
		Name:            "bl60x",
		NeedsLoader:     true,
		LoaderAddress:   0x22010000,
		HandshakeFactor: 0.003,
	}
	ChipBL70x = &Chip{
		Name:            "bl70x",
		UsbVidPid:       "FFFF:FFFF",
		HandshakeFactor: 0.003,
	}
)

var chips = map[string]*Chip{
	ChipBL60x.Name: ChipBL60x,
	ChipBL70x.Name: ChipBL70x,
}

func ChipNames() []string {
	names := make([]string, 0, len(chips))
	for name := range chips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func LookupChip(name string) (*Chip, error) {
	chip, ok := chips[strings.ToLower(name)]
	if !ok {
		return nil, newError(flasher.CodeInvalidChipType, "",
			fmt.Errorf("unknown chip %q (known: %s)", name, strings.Join(ChipNames(), ", ")))
	}
	return chip, nil
}

// Number of 0x55 bytes sent for a handshake at this baud rate
func (c *Chip) HandshakeLength(baud int) int {
	count := int(c.HandshakeFactor * float64(baud) / 10)
	if count < 1 {
		count = 1
	}
	return count
}
