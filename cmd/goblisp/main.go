package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/goblisp/goblisp/firmware"
	"github.com/goblisp/goblisp/flasher"
	"github.com/goblisp/goblisp/isp"
)

const (
	AppVersion = "0.3.0"
)

// **********************************
// *         IOT COMMAND            *
// **********************************

type IotCmd struct {
	Chip          string `short:"c" placeholder:"<chip_type>" help:"Chip type (bl60x or bl70x)"`
	Port          string `short:"p" placeholder:"<port_name>" help:"Name/path of the serial port (empty for search)"`
	Baudrate      int    `short:"b" default:"460800" help:"Serial baud rate"`
	Reset         bool   `help:"Reset chip after write"`
	Chiperase     bool   `help:"Do not write any data; erase the entire chip instead"`
	SingleDown    string `short:"s" type:"path" placeholder:"<file>" help:"Single download file (.bin, .hex or .dfu)"`
	SingleDownLoc string `short:"l" placeholder:"<offset>" help:"Single download offset (default: from the file)"`
	EflashLoader  string `type:"path" placeholder:"<file>" help:"Eflash loader RAM image, for chips which need one"`
}

func (c *IotCmd) config() (flasher.Config, error) {
	config := flasher.Config{
		Chip:      c.Chip,
		Port:      c.Port,
		Baud:      c.Baudrate,
		Reset:     c.Reset,
		ChipErase: c.Chiperase,
		File:      c.SingleDown,
	}
	if c.SingleDownLoc != "" {
		offset, err := parseNumber(c.SingleDownLoc)
		if err != nil {
			return config, &flasher.ConfigError{Field: "offset", Reason: fmt.Sprintf("%q is not a number", c.SingleDownLoc)}
		}
		config.Offset = &offset
	}
	return config, nil
}

func (c *IotCmd) Run(ctx *kong.Context) error {
	config, err := c.config()
	if err != nil {
		return err
	}
	req, err := flasher.NewRequest(config)
	if err != nil {
		var cerr *flasher.ConfigError
		if errors.Is(err, firmware.ErrFileNotReadable) || errors.As(err, &cerr) {
			// Help the user figure out what's missing
			ctx.PrintUsage(false)
		}
		return err
	}
	if req.Image != nil {
		log.Printf("Loaded %s: %d bytes for flash offset 0x%X\n", req.Image.Path, req.Length, req.Offset)
	}

	opener := &isp.Opener{LoaderPath: c.EflashLoader}
	f := flasher.New(
		flasher.WithProgress(progressPrinter()),
		flasher.WithStateHook(logState),
	)
	if err := f.Download(req, opener); err != nil {
		return err
	}

	result := make(map[string]interface{})
	result["Chip"] = req.Chip
	result["Port"] = req.Port
	result["Baudrate"] = req.Baud
	result["Mode"] = req.Mode.String()
	if req.Mode == flasher.ModeSingleDownload {
		result["File"] = req.Image.Path
		result["Format"] = req.Image.Format.String()
		result["Offset"] = hexString(req.Offset)
		result["Length"] = req.Length
		result["MD5"] = firmware.Md5String(req.Image.Payload)
		result["NeedsBootStruct"] = req.Image.NeedsBootStruct
		result["Reset"] = req.ResetAfter
	}
	log.Printf("Download complete!\n")
	PrintJson(result)
	return nil
}

// **********************************
// *       DEVICES COMMANDS         *
// **********************************

type ScanCmd struct {
}

func (c *ScanCmd) Run() error {
	ports, err := isp.ListPorts()
	fatalIfErr("scan", "list serial ports", err)
	log.Printf("Scan found %d serial ports\n", len(ports))
	PrintJson(ports)
	return nil
}

// **********************************
// *        IMAGE COMMANDS          *
// **********************************

type ImageInfoCmd struct {
	Infile string `arg:"" type:"path" help:"Firmware file (.bin, .hex or .dfu)"`
}

func (c *ImageInfoCmd) Run() error {
	img, err := firmware.Parse(c.Infile)
	if err != nil {
		return err
	}
	result := make(map[string]interface{})
	result["Infile"] = img.Path
	result["Format"] = img.Format.String()
	result["Address"] = hexString(img.Address)
	result["FlashOffset"] = hexString(img.FlashOffset)
	result["NeedsBootStruct"] = img.NeedsBootStruct
	result["Length"] = img.Len()
	result["MD5"] = firmware.Md5String(img.Payload)
	PrintJson(result)
	return nil
}

// **********************************
// *       CONVERT COMMANDS         *
// **********************************

type Hex2BinCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"firmware.hex" short:"i"`
}

func (c *Hex2BinCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("firmware_hex2bin_%s.bin", FileSafeDateTime())
	}
	hexfile, err := os.Open(c.Infile)
	fatalIfErr(c.Infile, "open read file", err)
	defer hexfile.Close()
	bin, address, err := firmware.HexToBin(hexfile)
	fatalIfErr("hex2bin", "convert hex", err)
	log.Printf("Hex real data length is %d at 0x%08X\n", len(bin), address)
	dest := forceCreate(c.Outfile)
	defer dest.Close()
	_, err = dest.Write(bin)
	fatalIfErr(c.Outfile, "write bin", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Address"] = hexString(address)
	result["Length"] = len(bin)
	result["MD5"] = firmware.Md5String(bin)
	PrintJson(result)
	return nil
}

type Bin2HexCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"firmware.bin" short:"i"`
	Address string `short:"a" default:"0x23000000" help:"Load address of the binary"`
}

func (c *Bin2HexCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("firmware_bin2hex_%s.hex", FileSafeDateTime())
	}
	address, err := parseAddress(c.Address)
	fatalIfErr("bin2hex", "parse address", err)
	bin, err := os.ReadFile(c.Infile)
	fatalIfErr("bin2hex", "read bin file", err)
	dest := forceCreate(c.Outfile)
	defer dest.Close()
	err = firmware.BinToHex(bin, address, dest)
	fatalIfErr("bin2hex", "convert bin", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Address"] = hexString(address)
	result["Length"] = len(bin)
	result["MD5"] = firmware.Md5String(bin)
	PrintJson(result)
	return nil
}

type Bin2DfuCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"firmware.bin" short:"i"`
	Address string `short:"a" default:"0x23000000" help:"Load address of the binary"`
}

func (c *Bin2DfuCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("firmware_bin2dfu_%s.dfu", FileSafeDateTime())
	}
	address, err := parseAddress(c.Address)
	fatalIfErr("bin2dfu", "parse address", err)
	bin, err := os.ReadFile(c.Infile)
	fatalIfErr("bin2dfu", "read bin file", err)
	dest := forceCreate(c.Outfile)
	defer dest.Close()
	err = firmware.BinToDfu(bin, address, dest)
	fatalIfErr("bin2dfu", "convert bin", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Address"] = hexString(address)
	result["Length"] = len(bin)
	result["MD5"] = firmware.Md5String(bin)
	PrintJson(result)
	return nil
}

// **********************************
// *    ALL TOGETHER COMMANDS       *
// **********************************

var cli struct {
	Iot    IotCmd `cmd:"" help:"Flash firmware the way Bouffalo's DevCube does"`
	Device struct {
		Scan ScanCmd `cmd:"" help:"List serial ports and guess what's attached to them"`
	} `cmd:"" help:"Commands which retrieve information about devices"`
	Image struct {
		Info ImageInfoCmd `cmd:"" help:"Show where a firmware file would be written"`
	} `cmd:"" help:"Commands which work on firmware files"`
	Convert struct {
		Hex2Bin Hex2BinCmd `cmd:"" help:"Convert Intel HEX to bin" name:"hex2bin"`
		Bin2Hex Bin2HexCmd `cmd:"" help:"Convert bin to Intel HEX" name:"bin2hex"`
		Bin2Dfu Bin2DfuCmd `cmd:"" help:"Convert bin to a DfuSe file" name:"bin2dfu"`
	} `cmd:"" help:"Commands which convert between firmware formats"`
	Config  kong.ConfigFlag  `help:"TOML file with flag defaults"`
	Verbose int              `short:"v" type:"counter" help:"Log protocol details (repeat for more)"`
	Version kong.VersionFlag `help:"Show version information"`
}

// The library packages log through glog, which only knows its settings from
// the standard flag package.
func setupGlog(verbosity int) {
	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(verbosity))
	flag.CommandLine.Parse(nil)
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("goblisp"),
		kong.ShortUsageOnError(),
		kong.Description("Flash tool for Bouffalo Lab BL60x/BL70x chips"),
		kong.Configuration(TomlConfig, configPaths...),
		kong.Vars{
			"version": AppVersion,
		},
	)
	setupGlog(cli.Verbose)
	err := ctx.Run()
	if err != nil {
		code := flasher.CodeOf(err)
		log.Printf("Error (%s): %s\n", code, err)
		os.Exit(code.ExitStatus())
	}
}
