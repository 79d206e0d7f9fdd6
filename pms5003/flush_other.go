//go:build !linux
// +build !linux

package pms5003

import "io"

func flushInput(io.ReadWriteCloser) error {
	return errFlushUnsupported
}
