// Command blehost exercises the GAP and Security Manager engines against
// the in-memory controller: it scans over synthetic advertising reports,
// runs an advertising set and walks a simulated pairing.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/blekit/ble"
	"github.com/blekit/ble/adv"
	"github.com/blekit/ble/eventq"
	"github.com/blekit/ble/gap"
	"github.com/blekit/ble/pal"
	"github.com/blekit/ble/palsim"
	"github.com/blekit/ble/secdb"
	"github.com/blekit/ble/security"
)

func main() {
	app := cli.NewApp()

	app.Name = "blehost"
	app.Usage = "GAP and Security Manager host stack demo"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "debug", Usage: "verbose engine logging"},
	}

	app.Commands = []cli.Command{
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "Scan over simulated advertisers",
			Action:  scan,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 2 * time.Second, Usage: "scan duration"},
			},
		},
		{
			Name:    "advertise",
			Aliases: []string{"a"},
			Usage:   "Run a connectable advertising set",
			Action:  advertise,
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 2 * time.Second, Usage: "advertising duration"},
				cli.StringFlag{Name: "name, n", Value: "blehost", Usage: "device name in the payload"},
			},
		},
		{
			Name:    "pair",
			Aliases: []string{"p"},
			Usage:   "Connect and pair with a simulated peer",
			Action:  pair,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "bonds", Value: "bonds.json", Usage: "bond database file"},
			},
		},
	}

	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type host struct {
	ctrl *palsim.Controller
	q    *eventq.Queue
	gap  *gap.Gap
	sm   *security.Manager
	db   *secdb.Store
}

func newHost(bondPath string) (*host, error) {
	h := &host{
		ctrl: palsim.New(),
		q:    eventq.New(64),
	}
	var err error
	h.gap, err = gap.New(h.ctrl.Gap(), h.q)
	if err != nil {
		return nil, err
	}
	h.db = secdb.NewStore(bondPath)
	h.sm, err = security.New(h.ctrl.SecurityManager(), h.db, h.q)
	if err != nil {
		return nil, err
	}
	h.gap.SetConnectionObserver(h.sm)
	return h, nil
}

func (h *host) close() {
	h.q.Close()
}

type scanHandler struct {
	gap.NopEventHandler
	reports chan gap.AdvertisingReportEvent
	done    chan struct{}
}

func (s *scanHandler) OnAdvertisingReport(ev gap.AdvertisingReportEvent) {
	select {
	case s.reports <- ev:
	default:
	}
}

func (s *scanHandler) OnScanTimeout() { close(s.done) }

func scan(c *cli.Context) error {
	h, err := newHost("")
	if err != nil {
		return err
	}
	defer h.close()

	handler := &scanHandler{
		reports: make(chan gap.AdvertisingReportEvent, 16),
		done:    make(chan struct{}),
	}
	h.gap.SetEventHandler(handler)

	if err := h.gap.StartScan(gap.ScanParameters{
		Active:        true,
		IntervalUnits: 0x60,
		WindowUnits:   0x30,
		Duration:      c.Duration("duration"),
	}); err != nil {
		return err
	}

	go simulateAdvertisers(h.ctrl)

	for {
		select {
		case r := <-handler.reports:
			fields, err := adv.Parse(r.Data)
			if err != nil {
				log.Debugf("unparseable payload from %s: %v", r.Address, err)
				fmt.Printf("[%s] rssi %d data %x\n", r.Address, r.RSSI, r.Data)
				continue
			}
			fmt.Printf("[%s] rssi %d name %q services %v\n", r.Address, r.RSSI, fields.LocalName, fields.Services)
		case <-handler.done:
			fmt.Println("scan finished")
			return nil
		}
	}
}

func simulateAdvertisers(ctrl *palsim.Controller) {
	peer, _ := ble.ParseAddr("ca:fe:12:34:56:78")
	for i := 0; i < 5; i++ {
		time.Sleep(200 * time.Millisecond)
		ev := ctrl.GapEvents()
		if ev == nil {
			return
		}
		ev.OnAdvertisingReport(pal.AdvertisingReport{
			Legacy:        true,
			LegacyPDUType: 0, // ADV_IND
			AddressType:   ble.AddrRandomStatic,
			Address:       peer,
			RSSI:          int8(-40 - i),
			Data: []byte{
				0x02, 0x01, 0x06, // flags
				0x08, 0x09, 's', 'i', 'm', 'p', 'e', 'e', 'r', // complete name
			},
		})
	}
}

func advertise(c *cli.Context) error {
	h, err := newHost("")
	if err != nil {
		return err
	}
	defer h.close()

	ended := make(chan struct{})
	h.gap.SetEventHandler(&advHandler{done: ended})

	name := c.String("name")
	var builder adv.Builder
	payload, err := builder.Flags(0x06).CompleteLocalName(name).Bytes()
	if err != nil {
		return err
	}
	handle := ble.LegacyAdvertisingHandle
	if err := h.gap.SetAdvertisingParameters(handle, gap.AdvertisingParameters{
		Connectable:      true,
		IntervalMinUnits: 0xa0,
		IntervalMaxUnits: 0xf0,
	}); err != nil {
		return err
	}
	if err := h.gap.SetAdvertisingPayload(handle, payload); err != nil {
		return err
	}
	if err := h.gap.StartAdvertising(handle, c.Duration("duration"), 0); err != nil {
		return err
	}
	fmt.Printf("advertising as %q\n", name)
	<-ended
	fmt.Println("advertising finished")
	return nil
}

type advHandler struct {
	gap.NopEventHandler
	done chan struct{}
}

func (a *advHandler) OnAdvertisingEnd(gap.AdvertisingEndEvent) { close(a.done) }

type pairHandler struct {
	security.NopEventHandler
	result chan error
}

func (p *pairHandler) OnPairingResult(_ ble.ConnectionHandle, err error) {
	p.result <- err
}

type connHandler struct {
	gap.NopEventHandler
	connected chan ble.ConnectionHandle
}

func (c *connHandler) OnConnectionComplete(ev gap.ConnectionCompleteEvent) {
	if ev.Status == 0 {
		c.connected <- ev.Handle
	}
}

func pair(c *cli.Context) error {
	h, err := newHost(c.String("bonds"))
	if err != nil {
		return err
	}
	defer h.close()

	gapEvents := &connHandler{connected: make(chan ble.ConnectionHandle, 1)}
	h.gap.SetEventHandler(gapEvents)
	smEvents := &pairHandler{result: make(chan error, 1)}
	h.sm.SetEventHandler(smEvents)
	if err := h.sm.Init(true, false, ble.IONoInputNoOutput, false); err != nil {
		return err
	}

	peer, _ := ble.ParseAddr("ca:fe:12:34:56:78")
	if err := h.gap.Connect(ble.AddrRandomStatic, peer, gap.ConnectionParameters{
		Phys: map[ble.Phy]ble.ConnectionParams{
			ble.Phy1M: {
				ScanIntervalUnits:     0x60,
				ScanWindowUnits:       0x30,
				MinConnectionInterval: 0x10,
				MaxConnectionInterval: 0x10,
				SupervisionTimeout:    0x100,
			},
		},
	}); err != nil {
		return err
	}

	// the simulated peer accepts immediately
	h.ctrl.GapEvents().OnConnectionComplete(pal.ConnectionComplete{
		Handle:          1,
		Role:            ble.RoleCentral,
		PeerAddressType: ble.AddrRandomStatic,
		PeerAddress:     peer,
		IntervalUnits:   0x10,
	})
	conn := <-gapEvents.connected
	fmt.Printf("connected to %s as handle %d\n", peer, conn)

	if err := h.sm.RequestPairing(conn); err != nil {
		return err
	}
	h.ctrl.SecurityEvents().OnPairingCompleted(conn)

	if err := <-smEvents.result; err != nil {
		return err
	}
	fmt.Println("pairing complete")
	return h.db.Sync()
}
