package pms5003

import "fmt"

// Command is a fixed 7 byte request: header 0x42 0x4d, command byte, two
// data bytes and a two byte checksum.
type Command [7]byte

// Commands understood by the sensor firmware. The sensor does not
// acknowledge power commands; they are fire and forget.
var (
	CommandPowerOn   = Command{0x42, 0x4d, 0xe4, 0x00, 0x01, 0x01, 0x74}
	CommandPowerOff  = Command{0x42, 0x4d, 0xe4, 0x00, 0x00, 0x01, 0x73}
	CommandReset     = Command{0x42, 0x4d, 0xe4, 0x00, 0x00, 0x01, 0x74}
	CommandStartRead = Command{0x42, 0x4d, 0xe2, 0x00, 0x00, 0x01, 0x71}
)

// Bytes returns a copy of the command as a slice.
func (c Command) Bytes() []byte {
	b := make([]byte, len(c))
	copy(b, c[:])
	return b
}

// String names well known commands and falls back to hex.
func (c Command) String() string {
	switch c {
	case CommandPowerOn:
		return "power-on"
	case CommandPowerOff:
		return "power-off"
	case CommandReset:
		return "reset"
	case CommandStartRead:
		return "start-read"
	}
	return fmt.Sprintf("% x", c[:])
}
