package pms5003

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Opts configures a Device.
type Opts struct {
	// SerialPort is usually /dev/ttyAMA0 on a Raspberry PI.
	SerialPort string
	BaudRate   uint
	// Driver selects the serial library, DriverJacobsa or DriverBugst.
	Driver string
	// ReadTimeout bounds a single read on the transport.
	ReadTimeout time.Duration
	// SettleDelay is the wait after power-on for fan and laser to stabilize.
	SettleDelay time.Duration
	// ReadInterval is the wait before each frame read.
	ReadInterval time.Duration
	// VerifyChecksum rejects frames with a bad header or checksum. Off by
	// default: any 32 byte read is accepted.
	VerifyChecksum bool
	// ReopenOnTimeout closes and reopens the transport on Reinitialize.
	ReopenOnTimeout bool
	// EnablePin and ResetPin name the GPIO lines wired to SET and RESET,
	// e.g. GPIO22 and GPIO27 on an Enviro+. Empty disables pin control.
	EnablePin string
	ResetPin  string
}

var DefaultOpts = Opts{
	SerialPort:   "/dev/ttyAMA0",
	BaudRate:     9600,
	Driver:       DriverJacobsa,
	ReadTimeout:  1 * time.Second,
	SettleDelay:  3 * time.Second,
	ReadInterval: 1 * time.Second,
}

// Device is a PMS5003 attached to a serial port. It owns the port for its
// whole lifetime and is not safe for concurrent use.
type Device struct {
	opts  Opts
	rw    Port
	open  OpenFunc
	pins  *pins
	log   zerolog.Logger
	sleep SleepFunc
	now   func() time.Time
}

// New device with sane default values for Enviro+ with PMS5003
// from Plantower.
func New() (*Device, error) {
	return NewWithOpts(DefaultOpts)
}

// NewWithOpts opens the serial port (and GPIO pins, if any) described by opts.
func NewWithOpts(opts Opts) (*Device, error) {
	return NewWithOpener(opts, OpenPort)
}

// NewWithOpener is like NewWithOpts but opens the transport with open. The
// same function is used again by Reinitialize when ReopenOnTimeout is set.
func NewWithOpener(opts Opts, open OpenFunc) (*Device, error) {
	p, err := openPins(opts.EnablePin, opts.ResetPin)
	if err != nil {
		return nil, err
	}

	rw, err := open(opts)
	if err != nil {
		return nil, err
	}

	dev := newDevice(rw, opts)
	dev.open = open
	dev.pins = p
	return dev, nil
}

// NewWithPort wraps an already open transport. Reinitialize never reopens it.
func NewWithPort(rw Port, opts Opts) *Device {
	return newDevice(rw, opts)
}

func newDevice(rw Port, opts Opts) *Device {
	dev := &Device{
		opts:  opts,
		rw:    rw,
		pins:  &pins{},
		sleep: Sleep,
		now:   time.Now,
	}
	dev.SetLogger(zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel))
	return dev
}

// SetLogger replaces the device logger.
func (dev *Device) SetLogger(l zerolog.Logger) {
	dev.log = l.With().Str("device", dev.opts.SerialPort).Logger()
}

func (dev *Device) EnableDebugging() {
	dev.log = dev.log.Level(zerolog.DebugLevel)
}

// Close releases the serial port.
func (dev *Device) Close() error {
	return dev.rw.Close()
}

// PowerOn wakes the sensor, waits SettleDelay, drops whatever was buffered
// before and switches the sensor to continuous reporting.
func (dev *Device) PowerOn(ctx context.Context) error {
	if err := dev.send(CommandPowerOn); err != nil {
		return err
	}
	dev.log.Info().Msg("PMS5003 sensor powered on.")

	if err := dev.sleep(ctx, dev.opts.SettleDelay); err != nil {
		return err
	}

	if err := dev.rw.Flush(); err != nil {
		dev.log.Warn().Err(err).Msg("Could not clear UART buffer.")
	} else {
		dev.log.Info().Msg("Cleared UART buffer to remove any residual data.")
	}

	if err := dev.send(CommandStartRead); err != nil {
		return err
	}
	dev.log.Info().Msg("PMS5003 start sensor read.")
	return nil
}

// PowerOff puts the sensor to sleep, stopping fan and laser. It may be
// called any number of times.
func (dev *Device) PowerOff() error {
	if err := dev.send(CommandPowerOff); err != nil {
		return err
	}
	dev.log.Info().Msg("PMS5003 sensor powered off.")
	return nil
}

// Reset sends the reset command and, when a reset pin is configured,
// pulses it as well.
func (dev *Device) Reset(ctx context.Context) error {
	if err := dev.send(CommandReset); err != nil {
		return err
	}
	dev.log.Info().Msg("PMS5003 sensor reset.")

	if err := dev.pins.pulseReset(ctx, dev.sleep); err != nil {
		return &TransportError{Op: "reset pin", Err: err}
	}
	return nil
}

// Reinitialize brings an unresponsive sensor back: the transport is reopened
// first when ReopenOnTimeout is set, then the sensor is powered on again.
func (dev *Device) Reinitialize(ctx context.Context) error {
	if dev.opts.ReopenOnTimeout && dev.open != nil {
		if err := dev.reopen(); err != nil {
			return err
		}
	}
	return dev.PowerOn(ctx)
}

func (dev *Device) reopen() error {
	if err := dev.rw.Close(); err != nil {
		dev.log.Warn().Err(err).Msg("Closing serial port before reopen.")
	}

	rw, err := dev.open(dev.opts)
	if err != nil {
		return &TransportError{Op: "reopen", Err: err}
	}
	dev.rw = rw
	dev.log.Info().Msg("Serial port reopened.")
	return nil
}

// ReadOnce waits ReadInterval and reads a single frame.
//
// Zero bytes yield ErrReadTimeout, a short read yields a *FrameError and any
// other transport failure a *TransportError.
func (dev *Device) ReadOnce(ctx context.Context) (*Reading, error) {
	if err := dev.sleep(ctx, dev.opts.ReadInterval); err != nil {
		return nil, err
	}

	buf := make([]byte, FrameSize)
	n, err := io.ReadFull(dev.rw, buf)
	dev.log.Debug().Int("bytes", n).Msg("PMS5003 reading sensor.")
	timedOut := err == io.EOF || err == io.ErrUnexpectedEOF || errors.Is(err, os.ErrDeadlineExceeded)
	switch {
	case timedOut && n == 0:
		return nil, fmt.Errorf("%w: no data within %v", ErrReadTimeout, dev.opts.ReadTimeout)
	case timedOut:
		return nil, &FrameError{Len: n, Reason: "short read"}
	case err != nil:
		return nil, &TransportError{Op: "read", Err: err}
	}

	if dev.opts.VerifyChecksum {
		if err := Verify(buf); err != nil {
			return nil, err
		}
	}

	f, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	return newReading(f, dev.now()), nil
}

func (dev *Device) send(cmd Command) error {
	n, err := dev.rw.Write(cmd.Bytes())
	if err != nil {
		return &TransportError{Op: "write " + cmd.String(), Err: err}
	}
	if n != len(cmd) {
		return &TransportError{Op: "write " + cmd.String(), Err: io.ErrShortWrite}
	}
	dev.log.Debug().Str("command", cmd.String()).Msg("Command sent.")
	return nil
}
