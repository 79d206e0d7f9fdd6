// Package cycle runs the power on, read, power off, cooldown loop that keeps
// the PMS5003 laser off most of the time.
package cycle

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rubiojr/go-pms5003-onoff/pms5003"
)

// PowerController switches the sensor between active and sleep mode.
type PowerController interface {
	PowerOn(ctx context.Context) error
	PowerOff() error
	Reset(ctx context.Context) error
}

// Reinitializer is implemented by controllers that can rebuild their
// transport before powering on again. Without it PowerOn is used.
type Reinitializer interface {
	Reinitialize(ctx context.Context) error
}

// FrameReader takes a single reading.
type FrameReader interface {
	ReadOnce(ctx context.Context) (*pms5003.Reading, error)
}

// Observer is notified of state transitions, readings and faults.
type Observer interface {
	ObserveState(State)
	ObserveReading(*pms5003.Reading)
	ObserveFault(pms5003.Kind, error)
}

type Opts struct {
	// ReadingsPerCycle is the number of read attempts while powered on.
	ReadingsPerCycle int
	// Cooldown is the idle time between cycles, counted down per second.
	Cooldown time.Duration
	// FaultCooldown is the pause after a reset.
	FaultCooldown time.Duration
	// Cycles stops the loop after that many cycles, 0 runs forever.
	Cycles int
}

var DefaultOpts = Opts{
	ReadingsPerCycle: 100,
	Cooldown:         60 * time.Second,
	FaultCooldown:    30 * time.Second,
}

// Scheduler drives a PowerController and a FrameReader in strict sequence
// on the calling goroutine.
type Scheduler struct {
	power  PowerController
	reader FrameReader
	opts   Opts
	obs    Observer
	out    io.Writer
	log    zerolog.Logger
	sleep  pms5003.SleepFunc
	state  State
	// asleep is set once PowerOff succeeded and cleared by any power-on.
	asleep bool
}

// New returns a scheduler. A *pms5003.Device serves as both power and reader.
func New(power PowerController, reader FrameReader, opts Opts) *Scheduler {
	return &Scheduler{
		power:  power,
		reader: reader,
		opts:   opts,
		out:    os.Stdout,
		log:    zerolog.New(os.Stderr).With().Timestamp().Logger(),
		sleep:  pms5003.Sleep,
	}
}

func (s *Scheduler) SetLogger(l zerolog.Logger) { s.log = l }

func (s *Scheduler) SetObserver(o Observer) { s.obs = o }

// SetOutput sets where the per reading summary is printed.
func (s *Scheduler) SetOutput(w io.Writer) { s.out = w }

func (s *Scheduler) State() State { return s.state }

// Run loops until ctx is done or Opts.Cycles cycles have completed. The
// sensor is powered off on every way out. A panic in the sensor calls is
// handled as an unexpected fault and the loop goes on. Run returns ctx.Err()
// when interrupted and nil otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.shutdown()

	for cycle := 1; s.opts.Cycles <= 0 || cycle <= s.opts.Cycles; cycle++ {
		s.setState(Idle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Info().Int("cycle", cycle).Msg("Starting cycle.")
		s.setState(Warmup)
		if err := s.powerOn(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Power on failed.")
			s.fault(ctx, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(ActiveReading)
		for i := 1; i <= s.opts.ReadingsPerCycle; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Info().Msgf("Reading %d", i)
			s.readOnce(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The last cycle of a bounded run is powered off by shutdown.
		if s.opts.Cycles > 0 && cycle == s.opts.Cycles {
			break
		}

		if err := s.powerOff(); err != nil {
			s.log.Error().Err(err).Msg("Power off failed.")
		}
		s.setState(Cooldown)
		if err := s.countdown(ctx, s.opts.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) shutdown() {
	s.setState(ShuttingDown)
	if s.asleep {
		s.log.Info().Msg("PMS5003 sensor already off. Exiting.")
		return
	}
	if err := s.powerOff(); err != nil {
		s.log.Error().Err(err).Msg("Could not turn off PMS5003 sensor.")
		return
	}
	s.log.Info().Msg("PMS5003 sensor turned off. Exiting.")
}

func (s *Scheduler) readOnce(ctx context.Context) {
	r, err := s.tryRead(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.fault(ctx, err)
		}
		return
	}

	fmt.Fprintf(s.out, "PM1.0: %d µg/m³\nPM2.5: %d µg/m³\nPM10: %d µg/m³\n", r.PM1, r.PM25, r.PM10)
	s.log.Debug().Stringer("reading", r).Msg("Reading decoded.")
	if s.obs != nil {
		s.obs.ObserveReading(r)
	}
}

// tryRead turns a panic inside the reader into an UnexpectedError so the
// loop keeps going.
func (s *Scheduler) tryRead(ctx context.Context) (r *pms5003.Reading, err error) {
	defer func() {
		if v := recover(); v != nil {
			r, err = nil, &pms5003.UnexpectedError{Value: v}
		}
	}()

	r, err = s.reader.ReadOnce(ctx)
	if err == nil && r == nil {
		err = &pms5003.UnexpectedError{Value: "reader returned no reading"}
	}
	return r, err
}

// fault applies the recovery action for err. Nothing here stops the loop.
func (s *Scheduler) fault(ctx context.Context, err error) {
	kind := pms5003.KindOf(err)
	if s.obs != nil {
		s.obs.ObserveFault(kind, err)
	}

	switch kind {
	case pms5003.KindInvalidFrame:
		s.log.Warn().Err(err).Msg("Invalid response length or corrupted data.")

	case pms5003.KindReadTimeout:
		s.log.Warn().Err(err).Msg("Read timeout error. Attempting to reinitialize PMS5003.")
		if err := s.reinitialize(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Reinitialize failed.")
		}

	case pms5003.KindRuntimeFault:
		s.log.Error().Err(err).Msg("Particle read failed.")
		if err := protect(func() error { return s.power.Reset(ctx) }); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Reset failed.")
		}
		s.log.Info().Msgf("Waiting %v before trying again.", s.opts.FaultCooldown)
		s.sleep(ctx, s.opts.FaultCooldown)

	default:
		s.log.Warn().Err(err).Msg("Unexpected error.")
	}
}

func (s *Scheduler) reinitialize(ctx context.Context) error {
	if r, ok := s.power.(Reinitializer); ok {
		s.asleep = false
		return protect(func() error { return r.Reinitialize(ctx) })
	}
	return s.powerOn(ctx)
}

func (s *Scheduler) powerOn(ctx context.Context) error {
	s.asleep = false
	return protect(func() error { return s.power.PowerOn(ctx) })
}

func (s *Scheduler) powerOff() error {
	err := protect(s.power.PowerOff)
	s.asleep = err == nil
	return err
}

// protect runs fn and turns a panic into an UnexpectedError.
func protect(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &pms5003.UnexpectedError{Value: v}
		}
	}()
	return fn()
}

func (s *Scheduler) countdown(ctx context.Context, d time.Duration) error {
	for remaining := d; remaining > 0; {
		step := time.Second
		if remaining < step {
			step = remaining
		}
		s.log.Info().Msgf("Waiting... %d seconds remaining", int(math.Ceil(remaining.Seconds())))
		if err := s.sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

func (s *Scheduler) setState(st State) {
	s.log.Info().Str("from", s.state.String()).Str("to", st.String()).Msg("State change.")
	s.state = st
	if s.obs != nil {
		s.obs.ObserveState(st)
	}
}
