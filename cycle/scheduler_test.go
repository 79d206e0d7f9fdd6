package cycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/go-pms5003-onoff/pms5003"
)

type result struct {
	reading *pms5003.Reading
	err     error
	panic   interface{}
}

// fakeSensor records every operation in order. Reads are served from a
// queue; an empty queue yields a fixed reading.
type fakeSensor struct {
	ops         []string
	reads       []result
	powerOnErr  error
	powerOffErr error
	// afterRead runs after the n-th read attempt (1 based).
	afterRead func(n int)
	nreads    int
}

func (f *fakeSensor) PowerOn(ctx context.Context) error {
	f.ops = append(f.ops, "powerOn")
	if f.powerOnErr != nil {
		err := f.powerOnErr
		f.powerOnErr = nil
		return err
	}
	return nil
}

func (f *fakeSensor) PowerOff() error {
	f.ops = append(f.ops, "powerOff")
	if f.powerOffErr != nil {
		err := f.powerOffErr
		f.powerOffErr = nil
		return err
	}
	return nil
}

func (f *fakeSensor) Reset(ctx context.Context) error {
	f.ops = append(f.ops, "reset")
	return nil
}

func (f *fakeSensor) ReadOnce(ctx context.Context) (*pms5003.Reading, error) {
	f.ops = append(f.ops, "read")
	f.nreads++
	if f.afterRead != nil {
		defer f.afterRead(f.nreads)
	}

	if len(f.reads) == 0 {
		return &pms5003.Reading{PM1: 1, PM25: 2, PM10: 3}, nil
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	if r.panic != nil {
		panic(r.panic)
	}
	return r.reading, r.err
}

func (f *fakeSensor) count(op string) (n int) {
	for _, o := range f.ops {
		if o == op {
			n++
		}
	}
	return
}

type recordingObserver struct {
	states   []State
	readings []*pms5003.Reading
	faults   []pms5003.Kind
}

func (o *recordingObserver) ObserveState(s State) { o.states = append(o.states, s) }

func (o *recordingObserver) ObserveReading(r *pms5003.Reading) { o.readings = append(o.readings, r) }

func (o *recordingObserver) ObserveFault(k pms5003.Kind, _ error) { o.faults = append(o.faults, k) }

func newTestScheduler(f *fakeSensor, opts Opts) (*Scheduler, *bytes.Buffer) {
	s := New(f, f, opts)
	s.SetLogger(zerolog.Nop())
	out := &bytes.Buffer{}
	s.SetOutput(out)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.ops = append(f.ops, "sleep "+d.String())
		return ctx.Err()
	}
	return s, out
}

func testOpts(readings, cycles int) Opts {
	return Opts{
		ReadingsPerCycle: readings,
		Cooldown:         3 * time.Second,
		FaultCooldown:    30 * time.Second,
		Cycles:           cycles,
	}
}

func TestRunSingleCycle(t *testing.T) {
	f := &fakeSensor{}
	s, out := newTestScheduler(f, testOpts(3, 1))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "read", "read", "read", "powerOff"}, f.ops)
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("PM2.5: 2 µg/m³")))
	assert.Equal(t, ShuttingDown, s.State())
}

func TestRunCyclesWithCooldown(t *testing.T) {
	f := &fakeSensor{}
	s, _ := newTestScheduler(f, testOpts(1, 2))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{
		"powerOn", "read", "powerOff",
		"sleep 1s", "sleep 1s", "sleep 1s",
		"powerOn", "read", "powerOff",
	}, f.ops)
}

func TestCountdownPartialSecond(t *testing.T) {
	f := &fakeSensor{}
	s, _ := newTestScheduler(f, testOpts(1, 1))

	require.NoError(t, s.countdown(context.Background(), 2500*time.Millisecond))
	assert.Equal(t, []string{"sleep 1s", "sleep 1s", "sleep 500ms"}, f.ops)
}

func TestSummaryOutput(t *testing.T) {
	f := &fakeSensor{reads: []result{{reading: &pms5003.Reading{PM1: 10, PM25: 30, PM10: 50}}}}
	s, out := newTestScheduler(f, testOpts(1, 1))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, "PM1.0: 10 µg/m³\nPM2.5: 30 µg/m³\nPM10: 50 µg/m³\n", out.String())
}

func TestInvalidFrameContinues(t *testing.T) {
	f := &fakeSensor{reads: []result{{err: &pms5003.FrameError{Len: 18}}}}
	s, out := newTestScheduler(f, testOpts(2, 1))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "read", "read", "powerOff"}, f.ops)
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("PM1.0")))
}

func TestReadTimeoutPowersOn(t *testing.T) {
	f := &fakeSensor{reads: []result{{err: fmt.Errorf("%w: silent", pms5003.ErrReadTimeout)}}}
	s, _ := newTestScheduler(f, testOpts(2, 1))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "read", "powerOn", "read", "powerOff"}, f.ops)
	assert.Zero(t, f.count("reset"))
}

type reinitSensor struct {
	*fakeSensor
}

func (r reinitSensor) Reinitialize(ctx context.Context) error {
	r.ops = append(r.ops, "reinitialize")
	return nil
}

func TestReadTimeoutUsesReinitializer(t *testing.T) {
	f := &fakeSensor{reads: []result{{err: pms5003.ErrReadTimeout}}}
	r := reinitSensor{f}
	s := New(r, f, testOpts(2, 1))
	s.SetLogger(zerolog.Nop())
	s.SetOutput(io.Discard)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "read", "reinitialize", "read", "powerOff"}, f.ops)
}

func TestRuntimeFaultResetsAndWaits(t *testing.T) {
	f := &fakeSensor{reads: []result{{err: &pms5003.TransportError{Op: "read", Err: io.ErrClosedPipe}}}}
	s, _ := newTestScheduler(f, testOpts(2, 1))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "read", "reset", "sleep 30s", "read", "powerOff"}, f.ops)
}

func TestUnexpectedFaultContinues(t *testing.T) {
	f := &fakeSensor{reads: []result{
		{err: errors.New("weird")},
		{panic: "index out of range"},
		{},
	}}
	obs := &recordingObserver{}
	s, _ := newTestScheduler(f, testOpts(4, 1))
	s.SetObserver(obs)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "read", "read", "read", "read", "powerOff"}, f.ops)
	assert.Equal(t, []pms5003.Kind{
		pms5003.KindUnexpectedFault,
		pms5003.KindUnexpectedFault,
		pms5003.KindUnexpectedFault,
	}, obs.faults)
	assert.Len(t, obs.readings, 1)
}

func TestPowerOnFailureIsHandled(t *testing.T) {
	f := &fakeSensor{powerOnErr: &pms5003.TransportError{Op: "write power-on", Err: io.ErrClosedPipe}}
	s, _ := newTestScheduler(f, testOpts(1, 1))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"powerOn", "reset", "sleep 30s", "read", "powerOff"}, f.ops)
}

func TestInterruptDuringReadingPowersOffOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeSensor{}
	f.afterRead = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	s, _ := newTestScheduler(f, testOpts(10, 0))

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"powerOn", "read", "read", "powerOff"}, f.ops)
	assert.Equal(t, ShuttingDown, s.State())
}

func TestInterruptDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeSensor{}
	s, _ := newTestScheduler(f, testOpts(1, 0))
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.ops = append(f.ops, "sleep "+d.String())
		cancel()
		return ctx.Err()
	}

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"powerOn", "read", "powerOff", "sleep 1s"}, f.ops)
	assert.Equal(t, 1, f.count("powerOff"))
}

func TestInterruptDuringCooldownAfterFailedPowerOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeSensor{powerOffErr: io.ErrClosedPipe}
	s, _ := newTestScheduler(f, testOpts(1, 0))
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.ops = append(f.ops, "sleep "+d.String())
		cancel()
		return ctx.Err()
	}

	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, []string{"powerOn", "read", "powerOff", "sleep 1s", "powerOff"}, f.ops)
}

func TestAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeSensor{}
	s, _ := newTestScheduler(f, testOpts(1, 0))

	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Equal(t, []string{"powerOff"}, f.ops)
}

func TestPanicInPowerOnIsUnexpectedFault(t *testing.T) {
	f := &fakeSensor{}
	obs := &recordingObserver{}
	s := New(&panickyPower{fakeSensor: f, onPowerOn: true}, f, testOpts(1, 1))
	s.SetLogger(zerolog.Nop())
	s.SetOutput(io.Discard)
	s.SetObserver(obs)

	require.NotPanics(t, func() { require.NoError(t, s.Run(context.Background())) })
	assert.Equal(t, []string{"read", "powerOff"}, f.ops)
	assert.Equal(t, []pms5003.Kind{pms5003.KindUnexpectedFault}, obs.faults)
	assert.Len(t, obs.readings, 1)
}

func TestPanicInRecoveryActionsContinues(t *testing.T) {
	f := &fakeSensor{reads: []result{
		{err: pms5003.ErrReadTimeout},
		{err: &pms5003.TransportError{Op: "read", Err: io.ErrClosedPipe}},
	}}
	p := &panickyPower{fakeSensor: f, onReinitialize: true, onReset: true}
	s := New(p, f, testOpts(3, 1))
	s.SetLogger(zerolog.Nop())
	s.SetOutput(io.Discard)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.ops = append(f.ops, "sleep "+d.String())
		return ctx.Err()
	}

	require.NotPanics(t, func() { require.NoError(t, s.Run(context.Background())) })
	assert.Equal(t, []string{
		"powerOn", "read",
		"read", "sleep 30s",
		"read", "powerOff",
	}, f.ops)
}

// panickyPower panics in the selected calls and forwards the rest.
type panickyPower struct {
	*fakeSensor
	onPowerOn      bool
	onReinitialize bool
	onReset        bool
}

func (p *panickyPower) PowerOn(ctx context.Context) error {
	if p.onPowerOn {
		panic("gpio exploded")
	}
	return p.fakeSensor.PowerOn(ctx)
}

func (p *panickyPower) Reinitialize(context.Context) error {
	if p.onReinitialize {
		panic("reopen exploded")
	}
	return nil
}

func (p *panickyPower) Reset(ctx context.Context) error {
	if p.onReset {
		panic("reset exploded")
	}
	return p.fakeSensor.Reset(ctx)
}

func TestObserverStates(t *testing.T) {
	f := &fakeSensor{}
	obs := &recordingObserver{}
	s, _ := newTestScheduler(f, testOpts(1, 2))
	s.SetObserver(obs)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []State{
		Idle, Warmup, ActiveReading, Cooldown,
		Idle, Warmup, ActiveReading,
		ShuttingDown,
	}, obs.states)
	assert.Len(t, obs.readings, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active_reading", ActiveReading.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "unknown", State(42).String())
}
