package pms5003

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"github.com/rs/zerolog"
)

type chunk struct {
	data []byte
	err  error
}

// fakePort is a simulated transport. Each queued chunk is handed out by a
// single Read call; an empty queue behaves like a timed out read.
type fakePort struct {
	events   *[]string
	reads    []chunk
	writes   [][]byte
	writeErr error
	shortBy  int
	flushes  int
	closed   bool
}

func newFakePort(events *[]string) *fakePort {
	return &fakePort{events: events}
}

func (p *fakePort) record(ev string) {
	if p.events != nil {
		*p.events = append(*p.events, ev)
	}
}

func (p *fakePort) queue(data []byte, err error) {
	p.reads = append(p.reads, chunk{data: data, err: err})
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.record("read")
	if len(p.reads) == 0 {
		return 0, io.EOF
	}
	c := p.reads[0]
	n := copy(b, c.data)
	if n < len(c.data) {
		p.reads[0].data = c.data[n:]
		return n, nil
	}
	p.reads = p.reads[1:]
	return n, c.err
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	var cmd Command
	copy(cmd[:], cp)
	p.record("write " + cmd.String())
	return len(b) - p.shortBy, nil
}

func (p *fakePort) Flush() error {
	p.flushes++
	p.record("flush")
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	p.record("close")
	return nil
}

func recordingSleep(events *[]string) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*events = append(*events, "sleep "+d.String())
		return ctx.Err()
	}
}

func newTestDevice(opts Opts) (*Device, *fakePort, *[]string) {
	events := &[]string{}
	port := newFakePort(events)
	dev := NewWithPort(port, opts)
	dev.SetLogger(zerolog.Nop())
	dev.sleep = recordingSleep(events)
	dev.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return dev, port, events
}

// makeFrame builds a well formed frame with a valid checksum.
func makeFrame(pm1, pm25, pm10 uint16) []byte {
	buf := make([]byte, FrameSize)
	buf[0], buf[1] = magic1, magic2
	binary.BigEndian.PutUint16(buf[2:], frameLength)
	binary.BigEndian.PutUint16(buf[4:], pm1)
	binary.BigEndian.PutUint16(buf[6:], pm25)
	binary.BigEndian.PutUint16(buf[8:], pm10)
	binary.BigEndian.PutUint16(buf[30:], checksum(buf[:30]))
	return buf
}
