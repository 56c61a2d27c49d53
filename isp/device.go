package isp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/goblisp/goblisp/flasher"
)

const (
	handshakeAttempts = 5
	defaultMaxPolls   = 2000
	defaultPollDelay  = 20 * time.Millisecond
	// Give the eflash loader time to start before talking to it
	loaderStartDelay = 500 * time.Millisecond
)

// Ports that can throw away stale input, like go.bug.st/serial ports
type inputResetter interface {
	ResetInputBuffer() error
}

type BootInfo struct {
	RomVersion string
	ChipID     string
	Raw        []byte
}

// Already running the eflash loader rather than the ROM
func (b *BootInfo) InLoader() bool {
	return len(b.Raw) >= 4 && bytes.Equal(b.Raw[:4], []byte{0xFF, 0xFF, 0xFF, 0xFF})
}

// Device is one bootloader session over a serial link. It implements
// flasher.Device.
type Device struct {
	port       io.ReadWriteCloser
	chip       *Chip
	baud       int
	loaderPath string
	maxPolls   int
	pollDelay  time.Duration
	sleep      func(time.Duration)
	BootInfo   BootInfo
}

type DeviceOption func(*Device)

// File holding the eflash loader RAM image, for chips that need one
func WithLoader(path string) DeviceOption {
	return func(d *Device) {
		d.loaderPath = path
	}
}

// How often, and how many times, to re-read a reply while the chip says it's
// still busy
func WithPolling(maxPolls int, delay time.Duration) DeviceOption {
	return func(d *Device) {
		d.maxPolls = maxPolls
		d.pollDelay = delay
	}
}

func withSleep(sleep func(time.Duration)) DeviceOption {
	return func(d *Device) {
		d.sleep = sleep
	}
}

func NewDevice(port io.ReadWriteCloser, chip *Chip, baud int, options ...DeviceOption) *Device {
	d := &Device{
		port:      port,
		chip:      chip,
		baud:      baud,
		maxPolls:  defaultMaxPolls,
		pollDelay: defaultPollDelay,
		sleep:     time.Sleep,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

func (d *Device) Chip() *Chip {
	return d.chip
}

// Send the 0x55 sync burst until the ROM (or the eflash loader) answers OK.
func (d *Device) Handshake(inLoader bool) error {
	if r, ok := d.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			glog.Warningf("Couldn't flush serial input: %s", err)
		}
	}
	burst := bytes.Repeat([]byte{HandshakeByte}, d.chip.HandshakeLength(d.baud))
	reply := make([]byte, 20)
	for attempt := 1; attempt <= handshakeAttempts; attempt++ {
		glog.V(1).Infof("Handshake attempt %d (%d bytes)", attempt, len(burst))
		rwep := ReadWriteErrorPass{rw: d.port}
		if !inLoader && d.chip.UsbVidPid != "" {
			rwep.WritePass(UsbResetSequence)
		}
		rwep.WritePass(burst)
		if err := rwep.IsPass(); err != nil {
			return newError(flasher.CodeNoResponse, "handshake", err)
		}
		// The reply may come with leftover sync bytes in front of it
		n, err := d.port.Read(reply)
		if err != nil {
			return newError(flasher.CodeNoResponse, "handshake", err)
		}
		if bytes.Contains(reply[:n], []byte("OK")) {
			return nil
		}
		glog.V(2).Infof("Handshake reply: % x", reply[:n])
	}
	return newError(flasher.CodeNoResponse, "handshake",
		fmt.Errorf("no answer after %d attempts", handshakeAttempts))
}

// Send one command and wait for its reply, returning the reply data if the
// command has any.
func (d *Device) Command(cmd byte, payload []byte, expectData bool) ([]byte, error) {
	name := CommandName(cmd)
	glog.V(1).Infof("Sending %s (%d bytes)", name, len(payload))
	frame := CommandFrame(cmd, payload)
	glog.V(2).Infof("-> % x", frame[:min(len(frame), 16)])
	rwep := ReadWriteErrorPass{rw: d.port}
	rwep.WritePass(frame)
	if err := rwep.IsPass(); err != nil {
		return nil, newError(flasher.CodeNoResponse, name, err)
	}
	return d.response(name, expectData)
}

func (d *Device) response(name string, expectData bool) ([]byte, error) {
	for poll := 0; ; poll++ {
		rwep := ReadWriteErrorPass{rw: d.port}
		var status [2]byte
		rwep.ReadPass(status[:])
		if err := rwep.IsPass(); err != nil {
			return nil, newError(flasher.CodeNoResponse, name, err)
		}
		glog.V(2).Infof("<- %q", status[:])
		switch string(status[:]) {
		case "OK":
			if !expectData {
				return nil, nil
			}
			var length [2]byte
			rwep.ReadPass(length[:])
			data := make([]byte, binary.LittleEndian.Uint16(length[:]))
			rwep.ReadPass(data)
			if err := rwep.IsPass(); err != nil {
				return nil, newError(flasher.CodeNoResponse, name, err)
			}
			return data, nil
		case "PD":
			if poll >= d.maxPolls {
				return nil, newError(flasher.CodePending, name, fmt.Errorf("still busy after %d polls", poll))
			}
			d.sleep(d.pollDelay)
		case "FL":
			var code [2]byte
			rwep.ReadPass(code[:])
			if err := rwep.IsPass(); err != nil {
				return nil, newError(flasher.CodeNoResponse, name, err)
			}
			return nil, &Error{
				Result:   flasher.CodeChipError,
				Command:  name,
				ChipCode: binary.LittleEndian.Uint16(code[:]),
			}
		default:
			return nil, newError(flasher.CodeNoResponse, name, fmt.Errorf("unexpected reply %q", status[:]))
		}
	}
}

func (d *Device) GetBootInfo() (*BootInfo, error) {
	data, err := d.Command(CmdGetBootInfo, nil, true)
	if err != nil {
		return nil, err
	}
	info := BootInfo{Raw: data}
	if len(data) >= 4 {
		info.RomVersion = fmt.Sprintf("%d.%d.%d.%d", data[0], data[1], data[2], data[3])
	}
	if len(data) >= 20 {
		info.ChipID = hex.EncodeToString(data[12:20])
	}
	d.BootInfo = info
	glog.V(1).Infof("Boot ROM %s, chip ID %s", info.RomVersion, info.ChipID)
	return &info, nil
}

// Sync with the chip and get it to the point where flash commands work. For
// chips that need it this loads and starts the eflash loader.
func (d *Device) PrepareFlash() error {
	if err := d.Handshake(false); err != nil {
		return err
	}
	info, err := d.GetBootInfo()
	if err != nil {
		return err
	}
	if !d.chip.NeedsLoader {
		return nil
	}
	if info.InLoader() {
		glog.V(1).Infof("Chip is already running the eflash loader")
		return nil
	}
	if d.loaderPath == "" {
		return newError(flasher.CodeNotImplemented, "load eflash loader",
			fmt.Errorf("%s needs an eflash loader image to program flash", d.chip.Name))
	}
	image, err := ReadRAMImage(d.loaderPath)
	if err != nil {
		return err
	}
	if err := d.LoadRAMImage(image); err != nil {
		return err
	}
	d.sleep(loaderStartDelay)
	return d.Handshake(true)
}

func (d *Device) ChipErase() error {
	_, err := d.Command(CmdChipErase, nil, false)
	return err
}

func (d *Device) FlashErase(start, end uint32) error {
	_, err := d.Command(CmdFlashErase, FlashErasePayload(start, end), false)
	return err
}

// Stream length bytes from r into flash at offset, one chunk per frame.
func (d *Device) FlashWrite(r io.Reader, offset uint32, length int, progress flasher.ProgressFunc) error {
	buf := make([]byte, FlashChunkSize)
	for written := 0; written < length; {
		size := min(FlashChunkSize, length-written)
		if _, err := io.ReadFull(r, buf[:size]); err != nil {
			return newError(flasher.CodeAPIError, CommandName(CmdFlashWrite),
				fmt.Errorf("firmware source ran out at %d of %d bytes: %w", written, length, err))
		}
		payload := FlashWritePayload(offset+uint32(written), buf[:size])
		if _, err := d.Command(CmdFlashWrite, payload, false); err != nil {
			return err
		}
		written += size
		if progress != nil {
			progress(written, length)
		}
	}
	return nil
}

func (d *Device) ProgramCheck() error {
	_, err := d.Command(CmdProgramCheck, nil, false)
	return err
}

func (d *Device) Reset() error {
	_, err := d.Command(CmdReset, nil, false)
	return err
}

func (d *Device) Close() error {
	return d.port.Close()
}
