//go:build !linux

package transport

import (
	"io"
	"runtime"

	"github.com/pkg/errors"
)

func openHCISocket(id int) (io.ReadWriteCloser, error) {
	return nil, errors.Errorf("transport: KindHCISocket is not supported on %s, use KindUARTH4 or KindTCPH4", runtime.GOOS)
}
