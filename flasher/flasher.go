package flasher

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"
)

type State int

const (
	StateIdle State = iota
	StatePrepared
	StateChipErasing
	StateErasing
	StateWriting
	StateVerifying
	StateResetting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StatePrepared:    "prepared",
	StateChipErasing: "chip erasing",
	StateErasing:     "erasing",
	StateWriting:     "writing",
	StateVerifying:   "verifying",
	StateResetting:   "resetting",
	StateDone:        "done",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Flasher runs one request against one device at a time. It holds no device
// state between runs.
type Flasher struct {
	progress ProgressFunc
	onState  func(State)
}

type Option func(*Flasher)

func WithProgress(progress ProgressFunc) Option {
	return func(f *Flasher) {
		f.progress = progress
	}
}

// Called every time the sequence moves to a new state, including the
// terminal one.
func WithStateHook(hook func(State)) Option {
	return func(f *Flasher) {
		f.onState = hook
	}
}

func New(options ...Option) *Flasher {
	f := &Flasher{}
	for _, o := range options {
		o(f)
	}
	return f
}

func (f *Flasher) enter(state State) {
	glog.V(2).Infof("Flasher state: %s", state)
	if f.onState != nil {
		f.onState(state)
	}
}

// Open the device the request points at and run the request on it.
func (f *Flasher) Download(req *Request, opener Opener) error {
	f.enter(StateIdle)
	dev, err := opener.Open(req.Port, req.Chip, req.Baud)
	if err != nil {
		f.enter(StateFailed)
		return stepError(StepOpen, err)
	}
	return f.Execute(req, dev)
}

// Run the request on an open device. The device is always closed before this
// returns, whatever happens; a failing close is only logged.
func (f *Flasher) Execute(req *Request, dev Device) (result error) {
	defer func() {
		if err := dev.Close(); err != nil {
			glog.Warningf("Failed to close device: %s", err)
		}
	}()
	defer func() {
		if result != nil {
			f.enter(StateFailed)
		} else {
			f.enter(StateDone)
		}
	}()

	if err := dev.PrepareFlash(); err != nil {
		return stepError(StepPrepare, err)
	}
	f.enter(StatePrepared)

	if req.Mode == ModeChipErase {
		f.enter(StateChipErasing)
		glog.V(1).Infof("Erasing entire chip")
		if err := dev.ChipErase(); err != nil {
			return stepError(StepChipErase, err)
		}
		return nil
	}

	if req.Image == nil || req.Length <= 0 {
		return &ConfigError{Field: "request", Reason: "has no firmware to write"}
	}

	f.enter(StateErasing)
	glog.V(1).Infof("Erasing 0x%08x-0x%08x", req.Offset, req.End())
	if err := dev.FlashErase(req.Offset, req.End()); err != nil {
		return stepError(StepErase, err)
	}

	f.enter(StateWriting)
	payload := req.Image.Payload[:req.Length]
	if err := dev.FlashWrite(bytes.NewReader(payload), req.Offset, req.Length, f.progress); err != nil {
		return stepError(StepWrite, err)
	}

	f.enter(StateVerifying)
	if err := dev.ProgramCheck(); err != nil {
		return stepError(StepVerify, err)
	}

	if req.ResetAfter {
		f.enter(StateResetting)
		if err := dev.Reset(); err != nil {
			return stepError(StepReset, err)
		}
	}
	return nil
}
