package flasher

import (
	"errors"
	"fmt"

	"github.com/goblisp/goblisp/firmware"
)

// Code is the result of a whole invocation. Device failures use the negative
// codes, which line up with what the bootloader library reports.
type Code int

const (
	CodeOK              Code = 0
	CodeFileNotFound    Code = 1
	CodeUnknown         Code = -1
	CodeNoResponse      Code = -2
	CodeDeviceNotFound  Code = -3
	CodeCantOpenDevice  Code = -4
	CodeNoAutoFind      Code = -5
	CodePending         Code = -6
	CodeChipError       Code = -7
	CodeInvalidChipType Code = -8
	CodeOutOfMemory     Code = -9
	CodeInvalidCommand  Code = -10
	CodeCantOpenFile    Code = -11
	CodeNotImplemented  Code = -12
	CodeAPIError        Code = -13
)

var codeNames = map[Code]string{
	CodeOK:              "ok",
	CodeFileNotFound:    "file not found",
	CodeUnknown:         "unknown error",
	CodeNoResponse:      "no response from device",
	CodeDeviceNotFound:  "device not found",
	CodeCantOpenDevice:  "can't open device",
	CodeNoAutoFind:      "device can't be found automatically",
	CodePending:         "device still pending",
	CodeChipError:       "chip reported an error",
	CodeInvalidChipType: "invalid chip type",
	CodeOutOfMemory:     "out of memory",
	CodeInvalidCommand:  "invalid command",
	CodeCantOpenFile:    "can't open file",
	CodeNotImplemented:  "not implemented",
	CodeAPIError:        "api error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code %d", int(c))
}

// Process exit status for this code
func (c Code) ExitStatus() int {
	if c < 0 {
		return int(-c)
	}
	return int(c)
}

// Coder is implemented by errors that know their own result code. Device
// implementations use it so their codes are carried verbatim.
type Coder interface {
	Code() Code
}

// Step names the point in the device sequence where something failed.
type Step string

const (
	StepOpen      Step = "open"
	StepPrepare   Step = "prepare"
	StepChipErase Step = "chip-erase"
	StepErase     Step = "erase"
	StepWrite     Step = "write"
	StepVerify    Step = "verify"
	StepReset     Step = "reset"
)

type DeviceError struct {
	Step Step
	Code Code
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %s failed: %s", e.Step, e.Code)
	}
	return fmt.Sprintf("device %s failed: %s", e.Step, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Wrap a device failure with the step it happened at. The code comes from the
// error itself when it has one.
func stepError(step Step, err error) *DeviceError {
	var derr *DeviceError
	if errors.As(err, &derr) && derr.Step == step {
		return derr
	}
	code := CodeUnknown
	var coder Coder
	if errors.As(err, &coder) {
		code = coder.Code()
	}
	return &DeviceError{Step: step, Code: code, Err: err}
}

// ConfigError is an invalid combination of inputs, found before any device is
// touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Map any error from this module onto a result code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var derr *DeviceError
	if errors.As(err, &derr) {
		return derr.Code
	}
	var cerr *ConfigError
	if errors.As(err, &cerr) {
		return CodeInvalidCommand
	}
	var perr *firmware.ParseError
	switch {
	case errors.Is(err, firmware.ErrInvalidFileType):
		return CodeInvalidCommand
	case errors.Is(err, firmware.ErrFileNotReadable):
		return CodeFileNotFound
	case errors.Is(err, firmware.ErrFileOpenFailed), errors.As(err, &perr):
		return CodeCantOpenFile
	}
	var coder Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return CodeUnknown
}
