// Based on code from Mark Hansen:
//   https://github.com/mhansen/breathe/blob/master/breathe.go
//
// Pimoroni's driver used as a reference also:
//  https://github.com/pimoroni/pms5003-python
//
// Package pms5003 switches a Plantower PMS5003 between active and sleep mode
// over its UART and decodes the 32 byte frames it streams while active.
//
// PMS5003 datasheet: http://www.aqmd.gov/docs/default-source/aq-spec/resources-page/plantower-pms5003-manual_v2-3.pdf
package pms5003

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	magic1 = 0x42 // :)
	magic2 = 0x4d

	// FrameSize is the length of a response frame including the header.
	FrameSize = 32

	// frameLength is the value of the length word of a well formed frame.
	frameLength = 28
)

// Frame wraps an air quality packet, as documented in https://cdn-shop.adafruit.com/product-files/3686/plantower-pms5003-manual_v2-3.pdf
//
// The two header bytes are not part of the struct, so field N lives at
// byte offset 2+2N of the raw frame.
type Frame struct {
	Length uint16
	// PM1.0 concentration, µg/m³ (CF=1, standard particle)
	PM1Std uint16
	// PM2.5 concentration, µg/m³ (CF=1, standard particle)
	PM25Std uint16
	// PM10 concentration, µg/m³ (CF=1, standard particle)
	PM10Std uint16
	// PM1.0 concentration, µg/m³ (atmospheric environment)
	PM1Env uint16
	// PM2.5 concentration, µg/m³ (atmospheric environment)
	PM25Env uint16
	// PM10 concentration, µg/m³ (atmospheric environment)
	PM10Env uint16
	// Particles beyond 0.3, 0.5, 1.0, 2.5, 5.0 and 10 µm in 0.1L of air.
	Particles03um uint16
	Particles05um uint16
	Particles1um  uint16
	Particles25um uint16
	Particles5um  uint16
	Particles10um uint16
	Reserved      uint16
	Checksum      uint16
}

// Reading is a decoded measurement taken at a specific point in time.
type Reading struct {
	TimeStamp time.Time `json:"timestamp"`
	PM1       uint16    `json:"pm1_0"`
	PM25      uint16    `json:"pm2_5"`
	PM10      uint16    `json:"pm10"`
	Frame     Frame     `json:"frame"`
}

// String returns a single line summary of the reading.
func (r *Reading) String() string {
	return fmt.Sprintf("%s: %d (PM1.0), %d (PM2.5), %d (PM10) µg/m³",
		r.TimeStamp.Format(time.RFC1123), r.PM1, r.PM25, r.PM10)
}

// Decode parses a raw response frame. Any buffer of exactly FrameSize bytes
// is accepted; header and checksum are not inspected (see Verify).
func Decode(buf []byte) (*Frame, error) {
	if len(buf) != FrameSize {
		return nil, &FrameError{Len: len(buf), Reason: fmt.Sprintf("want %d bytes", FrameSize)}
	}

	var f Frame
	if err := binary.Read(bytes.NewReader(buf[2:]), binary.BigEndian, &f); err != nil {
		return nil, &FrameError{Len: len(buf), Reason: err.Error()}
	}
	return &f, nil
}

// Verify checks the header bytes and the checksum of a raw response frame.
func Verify(buf []byte) error {
	if len(buf) != FrameSize {
		return &FrameError{Len: len(buf), Reason: fmt.Sprintf("want %d bytes", FrameSize)}
	}
	if buf[0] != magic1 || buf[1] != magic2 {
		return &FrameError{Len: len(buf), Reason: fmt.Sprintf("bad header % x", buf[:2])}
	}
	if l := binary.BigEndian.Uint16(buf[2:4]); l != frameLength {
		return &FrameError{Len: len(buf), Reason: fmt.Sprintf("bad length word %d", l)}
	}

	sum := checksum(buf[:FrameSize-2])
	if want := binary.BigEndian.Uint16(buf[FrameSize-2:]); sum != want {
		return &FrameError{Len: len(buf), Reason: fmt.Sprintf("checksum: got %#04x want %#04x", sum, want)}
	}
	return nil
}

func checksum(b []byte) (sum uint16) {
	for _, v := range b {
		sum += uint16(v)
	}
	return
}

func newReading(f *Frame, now time.Time) *Reading {
	return &Reading{
		TimeStamp: now,
		PM1:       f.PM1Std,
		PM25:      f.PM25Std,
		PM10:      f.PM10Std,
		Frame:     *f,
	}
}
