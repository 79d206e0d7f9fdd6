package pms5003

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const resetPulse = 100 * time.Millisecond

// pins drives the optional SET (enable) and RESET lines of the module.
//
// https://pinout.xyz/pinout/enviro_plus#
type pins struct {
	enable, reset gpio.PinOut
}

func openPins(enablePin, resetPin string) (*pins, error) {
	p := &pins{}
	if enablePin == "" && resetPin == "" {
		return p, nil
	}

	if _, err := host.Init(); err != nil {
		return nil, err
	}

	var err error
	if p.enable, err = pinByName(enablePin); err != nil {
		return nil, err
	}
	if p.reset, err = pinByName(resetPin); err != nil {
		return nil, err
	}
	return p, p.init()
}

func pinByName(name string) (gpio.PinOut, error) {
	if name == "" {
		return nil, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown gpio pin %q", name)
	}
	return pin, nil
}

// init releases the module: SET high keeps it out of hardware sleep, RESET
// high keeps it out of reset.
func (p *pins) init() error {
	if p.enable != nil {
		if err := p.enable.Out(gpio.High); err != nil {
			return err
		}
	}
	if p.reset != nil {
		if err := p.reset.Out(gpio.High); err != nil {
			return err
		}
	}
	return nil
}

func (p *pins) pulseReset(ctx context.Context, sleep SleepFunc) error {
	if p.reset == nil {
		return nil
	}
	if err := p.reset.Out(gpio.Low); err != nil {
		return err
	}

	// Release the line even when interrupted.
	serr := sleep(ctx, resetPulse)
	if err := p.reset.Out(gpio.High); err != nil {
		return err
	}
	return serr
}
