// Package transport adapts a gatt.Server's PDU-in/PDU-out interface to an
// actual radio: an HCI socket against a local Bluetooth controller, an
// H4-framed UART link to a discrete BLE chip, or an H4-framed TCP
// connection to a simulator. It is deliberately the thinnest layer in this
// module — spec.md treats the controller boundary as out of scope for
// behavior — but a concrete adapter is included so the core is runnable
// end to end rather than only unit-testable.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// Kind selects which physical transport Open constructs.
type Kind int

const (
	// KindHCISocket takes a local controller away from the host's
	// Bluetooth stack (bringing the device down) and talks to it through an
	// HCI user-channel socket (Linux only).
	KindHCISocket Kind = iota
	// KindUARTH4 talks to a discrete controller over an H4-framed UART,
	// the common arrangement for an MCU wired to a separate BLE chip.
	KindUARTH4
	// KindTCPH4 talks to an H4-framed TCP endpoint, e.g. a QEMU/simulator
	// bridge during development.
	KindTCPH4
)

// Config selects and parameterizes one transport.
type Config struct {
	Kind Kind

	// HCIDeviceID selects the controller index for KindHCISocket (hci0 == 0).
	HCIDeviceID int

	// UARTPath and BaudRate parameterize KindUARTH4.
	UARTPath string
	BaudRate uint

	// TCPAddr parameterizes KindTCPH4.
	TCPAddr string
	DialTimeout time.Duration
}

// Open returns the raw byte stream for cfg's transport. For every kind the
// returned stream carries packets led by their H4 packet-type octet, and
// Pump reads and writes all of them through the same H4 framing.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	switch cfg.Kind {
	case KindHCISocket:
		return openHCISocket(cfg.HCIDeviceID)

	case KindUARTH4:
		opts := serial.OpenOptions{
			PortName:        cfg.UARTPath,
			BaudRate:        cfg.BaudRate,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
		}
		if opts.BaudRate == 0 {
			opts.BaudRate = 115200
		}
		rwc, err := serial.Open(opts)
		if err != nil {
			return nil, errors.Wrapf(err, "transport: opening uart %s", cfg.UARTPath)
		}
		return rwc, nil

	case KindTCPH4:
		to := cfg.DialTimeout
		if to == 0 {
			to = 5 * time.Second
		}
		conn, err := net.DialTimeout("tcp", cfg.TCPAddr, to)
		if err != nil {
			return nil, errors.Wrapf(err, "transport: dialing %s", cfg.TCPAddr)
		}
		return conn, nil

	default:
		return nil, fmt.Errorf("transport: unknown transport kind %d", cfg.Kind)
	}
}
