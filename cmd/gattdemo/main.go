// Command gattdemo runs a small BLE peripheral exposing a counter
// characteristic (read + notify) and an echo characteristic (write),
// in the spirit of the teacher stack's own examples/server.go and
// sample.go, adapted from gatt.NewDevice's central-or-peripheral Device
// facade to this module's peripheral-only Server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	gatt "github.com/silicon-periph/gattcore"
	"github.com/silicon-periph/gattcore/bond"
	"github.com/silicon-periph/gattcore/smp"
	"github.com/silicon-periph/gattcore/transport"
)

var (
	counterServiceUUID = gatt.MustParseUUID128("09fc95c0-c111-11e3-9904-0002a5d5c51b")
	counterCharUUID    = gatt.MustParseUUID128("11fac9e0-c111-11e3-9246-0002a5d5c51b")
	echoCharUUID       = gatt.MustParseUUID128("16fe0d80-c111-11e3-b8c8-0002a5d5c51b")
)

func main() {
	app := cli.NewApp()
	app.Name = "gattdemo"
	app.Usage = "run a demo BLE GATT peripheral"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "name", Value: "gattcore-demo", Usage: "advertised device name"},
		cli.StringFlag{Name: "transport", Value: "tcp", Usage: "hci, uart, or tcp"},
		cli.StringFlag{Name: "uart", Value: "/dev/ttyACM0", Usage: "uart device path (transport=uart)"},
		cli.UintFlag{Name: "baud", Value: 115200, Usage: "uart baud rate (transport=uart)"},
		cli.StringFlag{Name: "addr", Value: "127.0.0.1:9000", Usage: "h4-over-tcp address (transport=tcp)"},
		cli.IntFlag{Name: "hci-device", Value: 0, Usage: "hci device id (transport=hci)"},
		cli.StringFlag{Name: "bondfile", Usage: "path to a bond record store (optional)"},
		cli.BoolFlag{Name: "verbose", Usage: "debug-level logging"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("gattdemo: exiting")
	}
}

func run(c *cli.Context) error {
	log := logrus.StandardLogger()
	if c.Bool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}

	server := gatt.NewServer(c.String("name"))
	server.Logger = log
	server.OnConnect = func(conn gatt.Conn) { log.WithField("peer", conn.RemoteAddr()).Info("gattdemo: central connected") }
	server.OnDisconnect = func(conn gatt.Conn) { log.WithField("peer", conn.RemoteAddr()).Info("gattdemo: central disconnected") }

	if path := c.String("bondfile"); path != "" {
		store, err := bond.NewStore(32, newFilePersister(path))
		if err != nil {
			return err
		}
		server.Bonds = store
	}

	addCounterService(server)

	if err := server.Start(); err != nil {
		return fmt.Errorf("gattdemo: starting server: %w", err)
	}

	cfg, err := transportConfig(c)
	if err != nil {
		return err
	}
	rw, err := transport.Open(cfg)
	if err != nil {
		return fmt.Errorf("gattdemo: opening transport: %w", err)
	}
	defer rw.Close()

	connID, err := server.Connect(nil)
	if err != nil {
		return fmt.Errorf("gattdemo: admitting connection: %w", err)
	}

	smpMgr := smp.NewManager(smp.DefaultConfig(), log)
	pump := transport.NewPump(server, rw, smpMgr, log)
	return pump.Run(connID)
}

func transportConfig(c *cli.Context) (transport.Config, error) {
	switch c.String("transport") {
	case "hci":
		return transport.Config{Kind: transport.KindHCISocket, HCIDeviceID: c.Int("hci-device")}, nil
	case "uart":
		return transport.Config{Kind: transport.KindUARTH4, UARTPath: c.String("uart"), BaudRate: c.Uint("baud")}, nil
	case "tcp":
		return transport.Config{Kind: transport.KindTCPH4, TCPAddr: c.String("addr")}, nil
	default:
		return transport.Config{}, fmt.Errorf("gattdemo: unknown transport %q", c.String("transport"))
	}
}

func addCounterService(server *gatt.Server) {
	svc := server.AddService(counterServiceUUID)

	count := 0
	counter := svc.AddCharacteristic(counterCharUUID)
	counter.HandleReadFunc(func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
		fmt.Fprintf(resp, "count: %d", count)
		count++
	})
	counter.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) {
		i := 0
		for !n.Done() {
			fmt.Fprintf(n, "tick: %d", i)
			i++
			time.Sleep(time.Second)
		}
	})

	echo := svc.AddCharacteristic(echoCharUUID)
	echo.HandleWriteFunc(func(r gatt.Request, data []byte) byte {
		logrus.WithField("data", string(data)).Info("gattdemo: echo characteristic written")
		return gatt.StatusSuccess
	})
}
