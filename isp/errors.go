package isp

import (
	"fmt"

	"github.com/goblisp/goblisp/flasher"
)

// Error is any failure talking to the bootloader. It carries the result code
// the flasher reports for it.
type Error struct {
	Result   flasher.Code
	Command  string
	ChipCode uint16 // What the chip sent with an FL reply
	Err      error
}

func (e *Error) Error() string {
	msg := e.Result.String()
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	if e.Result == flasher.CodeChipError {
		msg += fmt.Sprintf(" 0x%04x", e.ChipCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Code() flasher.Code {
	return e.Result
}

func newError(code flasher.Code, command string, err error) *Error {
	return &Error{Result: code, Command: command, Err: err}
}
