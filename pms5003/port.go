package pms5003

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Port is the serial transport used by a Device. Read must report a timed
// out read that delivered no bytes as io.EOF, so a short read can be told
// apart from a silent sensor.
type Port interface {
	io.ReadWriteCloser
	// Flush discards bytes received but not yet read.
	Flush() error
}

// OpenFunc opens the transport described by opts.
type OpenFunc func(opts Opts) (Port, error)

// Driver names accepted in Opts.Driver.
const (
	DriverJacobsa = "jacobsa"
	DriverBugst   = "bugst"
)

var errFlushUnsupported = errors.New("flush not supported on this port")

// OpenPort opens opts.SerialPort with the driver named in opts.Driver.
func OpenPort(opts Opts) (Port, error) {
	var (
		p   Port
		err error
	)
	switch opts.Driver {
	case "", DriverJacobsa:
		p, err = openJacobsa(opts)
	case DriverBugst:
		p, err = openBugst(opts)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", opts.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open port %s", opts.SerialPort)
	}
	return p, nil
}
