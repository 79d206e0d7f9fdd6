package pms5003

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Discards data received but not read.
// https://github.com/tarm/serial/blob/master/serial_linux.go
func flushInput(rw io.ReadWriteCloser) error {
	f, ok := rw.(*os.File)
	if !ok {
		return errFlushUnsupported
	}

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		f.Fd(),
		uintptr(unix.TCFLSH),
		uintptr(unix.TCIFLUSH),
	)
	if errno == 0 {
		return nil
	}
	return errno
}
