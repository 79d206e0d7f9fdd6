package pms5003

import (
	"io"

	"go.bug.st/serial"
)

type bugstPort struct {
	serial.Port
}

func openBugst(opts Opts) (Port, error) {
	p, err := serial.Open(opts.SerialPort, &serial.Mode{
		BaudRate: int(opts.BaudRate),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return &bugstPort{Port: p}, nil
}

// Read reports a timed out read as io.EOF.
func (p *bugstPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (p *bugstPort) Flush() error {
	return p.ResetInputBuffer()
}
