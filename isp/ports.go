package isp

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/goblisp/goblisp/flasher"
)

const (
	Board_BL70xUsb = "BL70x USB bootloader"
	Board_CH340    = "CH340 UART bridge"
	Board_CP210x   = "CP210x UART bridge"
	Board_FTDI     = "FTDI UART bridge"
)

// Things Bouffalo boards are commonly plugged in through
var VidPidTable = map[string]string{
	"VID:PID=FFFF:FFFF": Board_BL70xUsb,
	"VID:PID=1A86:7523": Board_CH340,
	"VID:PID=1A86:55D4": Board_CH340,
	"VID:PID=10C4:EA60": Board_CP210x,
	"VID:PID=0403:6001": Board_FTDI,
	"VID:PID=0403:6010": Board_FTDI,
	"VID:PID=0403:6014": Board_FTDI,
}

const DefaultReadTimeout = time.Second

type PortInfo struct {
	VidPid       string
	Port         string
	Product      string
	SerialNumber string
	IsUSB        bool
	Board        string
}

func vidPid(vid, pid string) string {
	return fmt.Sprintf("VID:PID=%s:%s", strings.ToUpper(vid), strings.ToUpper(pid))
}

func portInfos(ports []*enumerator.PortDetails) []PortInfo {
	result := make([]PortInfo, 0, len(ports))
	for _, port := range ports {
		info := PortInfo{
			Port:         port.Name,
			Product:      port.Product,
			SerialNumber: port.SerialNumber,
			IsUSB:        port.IsUSB,
		}
		if port.IsUSB {
			info.VidPid = vidPid(port.VID, port.PID)
			info.Board = VidPidTable[info.VidPid]
		}
		result = append(result, info)
	}
	return result
}

// Every serial port on the system, with a guess at what's on the other end
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	return portInfos(ports), nil
}

// The first port that is the chip's own USB bootloader
func matchPort(ports []PortInfo, chip *Chip) (string, error) {
	want := "VID:PID=" + strings.ToUpper(chip.UsbVidPid)
	for _, p := range ports {
		if p.VidPid == want {
			return p.Port, nil
		}
	}
	return "", newError(flasher.CodeDeviceNotFound, "",
		fmt.Errorf("no %s found on any USB port", chip.Name))
}

// Search for a chip by its USB bootloader. Chips behind a UART bridge can't be
// told apart from anything else on that bridge, so they need a port given.
func FindPort(chip *Chip) (string, error) {
	if chip.UsbVidPid == "" {
		return "", newError(flasher.CodeNoAutoFind, "",
			fmt.Errorf("%s has no USB bootloader; specify the port", chip.Name))
	}
	ports, err := ListPorts()
	if err != nil {
		return "", newError(flasher.CodeDeviceNotFound, "", err)
	}
	return matchPort(ports, chip)
}

func openSerial(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// Opener connects to chips over serial ports. It implements flasher.Opener.
type Opener struct {
	LoaderPath  string        // eflash loader image for chips that need one
	ReadTimeout time.Duration // 0 for DefaultReadTimeout
	openPort    func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error)
	findPort    func(chip *Chip) (string, error)
}

func (o *Opener) Open(port string, chip string, baud int) (flasher.Device, error) {
	c, err := LookupChip(chip)
	if err != nil {
		return nil, err
	}
	if port == "" {
		find := o.findPort
		if find == nil {
			find = FindPort
		}
		if port, err = find(c); err != nil {
			return nil, err
		}
		glog.V(1).Infof("Found %s on %s", c.Name, port)
	}
	open := o.openPort
	if open == nil {
		open = openSerial
	}
	timeout := o.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	rw, err := open(port, baud, timeout)
	if err != nil {
		return nil, newError(flasher.CodeCantOpenDevice, "", fmt.Errorf("%s: %w", port, err))
	}
	glog.V(1).Infof("Opened %s at %d baud for %s", port, baud, c.Name)
	return NewDevice(rw, c, baud, WithLoader(o.LoaderPath)), nil
}
