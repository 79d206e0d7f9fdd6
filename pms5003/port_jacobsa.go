package pms5003

import (
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

type jacobsaPort struct {
	io.ReadWriteCloser
}

// openJacobsa opens the port with VMIN=0 so a read returns after
// opts.ReadTimeout even when nothing arrived. The read then yields io.EOF.
func openJacobsa(opts Opts) (Port, error) {
	options := serial.OpenOptions{
		PortName:              opts.SerialPort,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: interCharacterTimeout(opts.ReadTimeout),
	}

	rw, err := serial.Open(options)
	if err != nil {
		return nil, err
	}
	return &jacobsaPort{ReadWriteCloser: rw}, nil
}

func (p *jacobsaPort) Flush() error {
	return flushInput(p.ReadWriteCloser)
}

// interCharacterTimeout converts d to milliseconds in the 100ms steps
// accepted by termios VTIME.
func interCharacterTimeout(d time.Duration) uint {
	ms := uint(d / time.Millisecond)
	ms = (ms + 99) / 100 * 100
	if ms == 0 {
		ms = 100
	}
	if ms > 25500 {
		ms = 25500
	}
	return ms
}
