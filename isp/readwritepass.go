package isp

import (
	"errors"
	"io"
)

// A serial port that times out reads with nothing instead of an error, so a
// transfer that stops making progress has to be treated as a failure.
var ErrNoData = errors.New("transfer stalled, no data")

type ReadWriteErrorPass struct {
	rw  io.ReadWriter
	err error
}

type ReadWritePasser interface {
	io.ReadWriter
	ReadPass([]byte) int
	WritePass([]byte) int
	IsPass() error
}

func (rwep *ReadWriteErrorPass) loopError(b []byte, f func([]byte) (int, error)) (int, error) {
	if rwep.err != nil {
		return 0, rwep.err
	}
	expect := len(b)
	amount := 0
	slice := b
	for amount < expect {
		count, err := f(slice)
		amount += count
		if err != nil {
			rwep.err = err
			return amount, err
		}
		if count == 0 {
			rwep.err = ErrNoData
			return amount, rwep.err
		}
		slice = slice[count:]
	}
	return amount, nil
}

// Write the entire buffer, skipping entirely if an earlier transfer failed
func (rwep *ReadWriteErrorPass) Write(b []byte) (int, error) {
	return rwep.loopError(b, rwep.rw.Write)
}

// Fill the entire buffer, skipping entirely if an earlier transfer failed.
// Hitting the read timeout partway through is an error.
func (rwep *ReadWriteErrorPass) Read(b []byte) (int, error) {
	return rwep.loopError(b, rwep.rw.Read)
}

func (rwep *ReadWriteErrorPass) WritePass(b []byte) int {
	val, _ := rwep.Write(b)
	return val
}

func (rwep *ReadWriteErrorPass) ReadPass(b []byte) int {
	val, _ := rwep.Read(b)
	return val
}

func (rwep *ReadWriteErrorPass) IsPass() error {
	return rwep.err
}
