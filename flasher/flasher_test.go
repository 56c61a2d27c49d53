package flasher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goblisp/goblisp/firmware"
)

type codedError Code

func (e codedError) Error() string { return Code(e).String() }
func (e codedError) Code() Code    { return Code(e) }

// Records every call made to it. Any method named in fail returns that error.
type fakeDevice struct {
	calls   []string
	fail    map[string]error
	written []byte
	closed  int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{fail: make(map[string]error)}
}

func (d *fakeDevice) record(call string) error {
	d.calls = append(d.calls, call)
	return d.fail[call]
}

func (d *fakeDevice) PrepareFlash() error { return d.record("prepare") }
func (d *fakeDevice) ChipErase() error    { return d.record("chip-erase") }
func (d *fakeDevice) ProgramCheck() error { return d.record("verify") }
func (d *fakeDevice) Reset() error        { return d.record("reset") }

func (d *fakeDevice) FlashErase(start, end uint32) error {
	return d.record(fmt.Sprintf("erase 0x%x-0x%x", start, end))
}

func (d *fakeDevice) FlashWrite(r io.Reader, offset uint32, length int, progress ProgressFunc) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.written = data
	if progress != nil {
		progress(length, length)
	}
	return d.record(fmt.Sprintf("write 0x%x+%d", offset, length))
}

func (d *fakeDevice) Close() error {
	d.closed++
	return d.fail["close"]
}

func imageRequest(t *testing.T, length int, offset uint32, reset bool) *Request {
	t.Helper()
	payload := make([]byte, length)
	for i := range payload {
		payload[i] = byte(i)
	}
	return &Request{
		Mode:       ModeSingleDownload,
		Chip:       "bl70x",
		Baud:       DefaultBaudRate,
		Offset:     offset,
		Length:     length,
		ResetAfter: reset,
		Image:      &firmware.Image{Payload: payload, FlashOffset: offset},
	}
}

func TestExecute_SingleDownload(t *testing.T) {
	dev := newFakeDevice()
	req := imageRequest(t, 0x100, 0x2000, false)
	var progress []int
	f := New(WithProgress(func(current, total int) { progress = append(progress, current) }))

	require.NoError(t, f.Execute(req, dev))
	assert.Equal(t, []string{"prepare", "erase 0x2000-0x20ff", "write 0x2000+256", "verify"}, dev.calls)
	assert.Equal(t, req.Image.Payload, dev.written)
	assert.Equal(t, []int{0x100}, progress)
	assert.Equal(t, 1, dev.closed)
}

func TestExecute_SingleDownloadWithReset(t *testing.T) {
	dev := newFakeDevice()
	require.NoError(t, New().Execute(imageRequest(t, 1, 0, true), dev))
	assert.Equal(t, []string{"prepare", "erase 0x0-0x0", "write 0x0+1", "verify", "reset"}, dev.calls)
	assert.Equal(t, 1, dev.closed)
}

func TestExecute_ChipErase(t *testing.T) {
	dev := newFakeDevice()
	// Write parameters are present but must be ignored
	req := imageRequest(t, 64, 0x1000, true)
	req.Mode = ModeChipErase
	require.NoError(t, New().Execute(req, dev))
	assert.Equal(t, []string{"prepare", "chip-erase"}, dev.calls)
	assert.Equal(t, 1, dev.closed)
}

func TestExecute_StateSequence(t *testing.T) {
	var states []State
	f := New(WithStateHook(func(s State) { states = append(states, s) }))
	require.NoError(t, f.Execute(imageRequest(t, 8, 0, true), newFakeDevice()))
	assert.Equal(t, []State{StatePrepared, StateErasing, StateWriting, StateVerifying, StateResetting, StateDone}, states)

	states = nil
	dev := newFakeDevice()
	dev.fail["verify"] = errors.New("mismatch")
	require.Error(t, f.Execute(imageRequest(t, 8, 0, true), dev))
	assert.Equal(t, []State{StatePrepared, StateErasing, StateWriting, StateVerifying, StateFailed}, states)
}

func TestExecute_FailureAtEveryStep(t *testing.T) {
	cases := []struct {
		fail  string
		mode  Mode
		step  Step
		calls []string
	}{
		{"prepare", ModeSingleDownload, StepPrepare, []string{"prepare"}},
		{"prepare", ModeChipErase, StepPrepare, []string{"prepare"}},
		{"chip-erase", ModeChipErase, StepChipErase, []string{"prepare", "chip-erase"}},
		{"erase 0x10-0x1f", ModeSingleDownload, StepErase, []string{"prepare", "erase 0x10-0x1f"}},
		{"write 0x10+16", ModeSingleDownload, StepWrite, []string{"prepare", "erase 0x10-0x1f", "write 0x10+16"}},
		{"verify", ModeSingleDownload, StepVerify, []string{"prepare", "erase 0x10-0x1f", "write 0x10+16", "verify"}},
		{"reset", ModeSingleDownload, StepReset, []string{"prepare", "erase 0x10-0x1f", "write 0x10+16", "verify", "reset"}},
	}
	for _, c := range cases {
		dev := newFakeDevice()
		dev.fail[c.fail] = codedError(CodeChipError)
		req := imageRequest(t, 16, 0x10, true)
		req.Mode = c.mode

		err := New().Execute(req, dev)
		var derr *DeviceError
		require.ErrorAsf(t, err, &derr, "failing %s", c.fail)
		assert.Equal(t, c.step, derr.Step)
		assert.Equal(t, CodeChipError, derr.Code)
		assert.Equal(t, CodeChipError, CodeOf(err))
		assert.Equal(t, c.calls, dev.calls)
		assert.Equalf(t, 1, dev.closed, "device closed %d times after failing %s", dev.closed, c.fail)
	}
}

func TestExecute_CloseErrorDoesNotMaskResult(t *testing.T) {
	dev := newFakeDevice()
	dev.fail["close"] = errors.New("port vanished")
	assert.NoError(t, New().Execute(imageRequest(t, 4, 0, false), dev))
	assert.Equal(t, 1, dev.closed)

	dev = newFakeDevice()
	dev.fail["close"] = errors.New("port vanished")
	dev.fail["verify"] = codedError(CodeNoResponse)
	err := New().Execute(imageRequest(t, 4, 0, false), dev)
	assert.Equal(t, CodeNoResponse, CodeOf(err))
	assert.Equal(t, 1, dev.closed)
}

func TestExecute_UncodedErrorIsUnknown(t *testing.T) {
	dev := newFakeDevice()
	dev.fail["prepare"] = errors.New("weird")
	err := New().Execute(imageRequest(t, 4, 0, false), dev)
	assert.Equal(t, CodeUnknown, CodeOf(err))
	assert.ErrorContains(t, err, "weird")
}

func TestDownload_OpenFailure(t *testing.T) {
	opener := OpenerFunc(func(port, chip string, baud int) (Device, error) {
		return nil, codedError(CodeDeviceNotFound)
	})
	err := New().Download(imageRequest(t, 4, 0, false), opener)
	var derr *DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, StepOpen, derr.Step)
	assert.Equal(t, CodeDeviceNotFound, CodeOf(err))
}

func TestDownload_PassesConnectionSettings(t *testing.T) {
	dev := newFakeDevice()
	var gotPort, gotChip string
	var gotBaud int
	opener := OpenerFunc(func(port, chip string, baud int) (Device, error) {
		gotPort, gotChip, gotBaud = port, chip, baud
		return dev, nil
	})
	req := imageRequest(t, 4, 0, false)
	req.Port = "/dev/ttyUSB3"
	require.NoError(t, New().Download(req, opener))
	assert.Equal(t, "/dev/ttyUSB3", gotPort)
	assert.Equal(t, "bl70x", gotChip)
	assert.Equal(t, DefaultBaudRate, gotBaud)
	assert.Equal(t, 1, dev.closed)
}

func writeFirmware(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestNewRequest_NegativeBaudTouchesNothing(t *testing.T) {
	// A missing file proves the baud is rejected before anything else is looked at
	req, err := NewRequest(Config{Chip: "bl70x", Baud: -1, File: "/nowhere/firmware.bin"})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "baud rate", cerr.Field)
	assert.Nil(t, req)
	assert.Equal(t, CodeInvalidCommand, CodeOf(err))
}

func TestNewRequest_Defaults(t *testing.T) {
	path := writeFirmware(t, "firmware.bin", []byte{1, 2, 3})
	req, err := NewRequest(Config{Chip: "bl60x", File: path, Reset: true})
	require.NoError(t, err)
	assert.Equal(t, ModeSingleDownload, req.Mode)
	assert.Equal(t, DefaultBaudRate, req.Baud)
	assert.Equal(t, uint32(0), req.Offset)
	assert.Equal(t, 3, req.Length)
	assert.True(t, req.ResetAfter)
	assert.True(t, req.Image.NeedsBootStruct)
}

func TestNewRequest_ExplicitOffset(t *testing.T) {
	path := writeFirmware(t, "firmware.bin", []byte{1, 2, 3})
	offset := int64(0x4000)
	req, err := NewRequest(Config{Chip: "bl60x", File: path, Baud: 115200, Offset: &offset})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x4000), req.Offset)
	assert.Equal(t, uint32(0x4002), req.End())
	assert.Equal(t, 115200, req.Baud)
}

func TestNewRequest_BadOffsets(t *testing.T) {
	path := writeFirmware(t, "firmware.bin", []byte{1, 2, 3})
	for _, offset := range []int64{-1, 0xFFFFFFFE, 1 << 40} {
		o := offset
		_, err := NewRequest(Config{Chip: "bl60x", File: path, Offset: &o})
		var cerr *ConfigError
		assert.ErrorAsf(t, err, &cerr, "offset %d", offset)
	}
}

func TestNewRequest_ChipEraseIgnoresFile(t *testing.T) {
	// Even a file that doesn't exist is never looked at
	offset := int64(0x1000)
	req, err := NewRequest(Config{Chip: "bl70x", ChipErase: true, File: "/nowhere/firmware.bin", Offset: &offset})
	require.NoError(t, err)
	assert.Equal(t, ModeChipErase, req.Mode)
	assert.Nil(t, req.Image)

	dev := newFakeDevice()
	require.NoError(t, New().Execute(req, dev))
	assert.Equal(t, []string{"prepare", "chip-erase"}, dev.calls)
}

func TestNewRequest_MissingInputs(t *testing.T) {
	_, err := NewRequest(Config{File: "firmware.bin"})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "chip", cerr.Field)

	_, err = NewRequest(Config{Chip: "bl70x"})
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "firmware file", cerr.Field)
}

func TestNewRequest_FileErrors(t *testing.T) {
	_, err := NewRequest(Config{Chip: "bl70x", File: "firmware.elf"})
	assert.ErrorIs(t, err, firmware.ErrInvalidFileType)
	assert.Equal(t, CodeInvalidCommand, CodeOf(err))

	_, err = NewRequest(Config{Chip: "bl70x", File: filepath.Join(t.TempDir(), "missing.bin")})
	assert.ErrorIs(t, err, firmware.ErrFileNotReadable)
	assert.Equal(t, CodeFileNotFound, CodeOf(err))

	_, err = NewRequest(Config{Chip: "bl70x", File: writeFirmware(t, "bad.hex", []byte("garbage\n"))})
	assert.Equal(t, CodeCantOpenFile, CodeOf(err))
}

func TestNewRequest_HexOffset(t *testing.T) {
	var hexData = ":020000042300D7\n:04100000DEADBEEFB4\n:00000001FF\n"
	req, err := NewRequest(Config{Chip: "bl70x", File: writeFirmware(t, "app.hex", []byte(hexData))})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), req.Offset)
	assert.Equal(t, 4, req.Length)
	assert.False(t, req.Image.NeedsBootStruct)
}

func TestCodeExitStatus(t *testing.T) {
	assert.Equal(t, 0, CodeOK.ExitStatus())
	assert.Equal(t, 1, CodeFileNotFound.ExitStatus())
	assert.Equal(t, 10, CodeInvalidCommand.ExitStatus())
	assert.Equal(t, 7, CodeChipError.ExitStatus())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeOK, CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("?")))
	assert.Equal(t, CodeNotImplemented, CodeOf(fmt.Errorf("wrapped: %w", codedError(CodeNotImplemented))))
	assert.Equal(t, CodeCantOpenFile, CodeOf(fmt.Errorf("%w: denied", firmware.ErrFileOpenFailed)))
}
