package firmware

import (
	"io"
)

// Raw binaries carry no address metadata, so they always load at 0.
func parseBin(path string) ([]byte, uint32, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, &ParseError{Format: FormatBin, Path: path, Err: err}
	}
	return data, 0, nil
}
