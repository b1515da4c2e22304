//go:build linux

package transport

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// hciSocket is a raw HCI User Channel socket, grounded on the controller
// binding sequence Linux's own bluetoothd uses: down the device, bind
// exclusively as HCI_CHANNEL_USER, which hands the whole controller (no
// kernel Bluetooth stack involvement) to this process.
type hciSocket struct {
	fd  int
	rmu sync.Mutex
	wmu sync.Mutex
}

func openHCISocket(id int) (*hciSocket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "transport: opening raw hci socket")
	}
	if err := unix.IoctlSetInt(fd, hciDownDeviceIOC, id); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "transport: downing hci%d", id)
	}
	sa := &unix.SockaddrHCI{Dev: uint16(id), Channel: unix.HCI_CHANNEL_USER}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(err, "transport: binding hci%d user channel", id)
	}
	return &hciSocket{fd: fd}, nil
}

// hciDownDeviceIOC is HCIDEVDOWN, [bluez include/net/hci.h]: ioctl type
// 'H' (72), request 202, a plain int argument.
const hciDownDeviceIOC = (1 << 30) | (72 << 8) | 202 | (4 << 16)

func (s *hciSocket) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	n, err := unix.Read(s.fd, p)
	if err != nil {
		return n, errors.Wrap(err, "transport: reading hci socket")
	}
	return n, nil
}

func (s *hciSocket) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	if err != nil {
		return n, errors.Wrap(err, "transport: writing hci socket")
	}
	return n, nil
}

func (s *hciSocket) Close() error {
	return errors.Wrap(unix.Close(s.fd), "transport: closing hci socket")
}
