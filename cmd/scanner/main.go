// Command scanner is a conformance harness that plays the PLC scanner role
// against an adapter under test: it registers a session, walks the
// discovery commands, negotiates a Forward Open, verifies the resulting
// Class-1 UDP stream's sequence invariants, then tears the connection down
// with a Forward Close.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/pkg/cip"
	"github.com/fieldspan/enip-adapter/pkg/client"
	"github.com/fieldspan/enip-adapter/pkg/connmgr"
	"github.com/fieldspan/enip-adapter/pkg/eip"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr       string
		udpListen  string
		rpi        time.Duration
		streamFor  time.Duration
		logLevel   string
		toConnID   uint32
		serialNum  uint16
		vendorID   uint16
		originator uint32
	)

	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "EtherNet/IP scanner conformance harness",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := internal.NewZapLogger(logLevel)
			if err != nil {
				return err
			}
			return run(runArgs{
				addr:       addr,
				udpListen:  udpListen,
				rpi:        rpi,
				streamFor:  streamFor,
				toConnID:   toConnID,
				serialNum:  serialNum,
				vendorID:   vendorID,
				originator: originator,
				logger:     logger,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:44818", "adapter TCP address")
	flags.StringVar(&udpListen, "udp-listen", ":2222", "local address to receive the Class-1 cyclic stream on")
	flags.DurationVar(&rpi, "rpi", 10*time.Millisecond, "requested packet interval to negotiate")
	flags.DurationVar(&streamFor, "stream-for", 1*time.Second, "how long to observe the cyclic stream before closing")
	flags.Uint32Var(&toConnID, "to-connection-id", 0x01020304, "T->O connection id to present in the Forward Open request")
	flags.Uint16Var(&serialNum, "connection-serial", 1, "connection serial number to present")
	flags.Uint16Var(&vendorID, "vendor-id", 0x1337, "originator vendor id to present")
	flags.Uint32Var(&originator, "originator-serial", 1, "originator serial number to present")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

type runArgs struct {
	addr       string
	udpListen  string
	rpi        time.Duration
	streamFor  time.Duration
	toConnID   uint32
	serialNum  uint16
	vendorID   uint16
	originator uint32
	logger     internal.Logger
}

func run(a runArgs) error {
	c, err := client.NewClient(a.addr, a.logger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if ids, err := c.ListIdentity(); err != nil {
		a.logger.Warnf("list identity: %v", err)
	} else {
		for _, id := range ids {
			fmt.Printf("identity: vendor=0x%04X product=%q state=%d\n", id.VendorID, id.ProductName, id.State)
		}
	}

	if svcs, err := c.ListServices(); err != nil {
		a.logger.Warnf("list services: %v", err)
	} else {
		for _, s := range svcs {
			fmt.Printf("service: %q flags=0x%04X\n", s.Name, s.CapabilityFlags)
		}
	}

	rpiUS := uint32(a.rpi / time.Microsecond)
	foReq := &connmgr.ForwardOpenRequest{
		PriorityTimeTick:            0x03,
		TimeoutTicks:                249,
		OTConnectionID:              0, // adapter-assigned, unused on the wire from our side
		TOConnectionID:              cip.UDINT(a.toConnID),
		ConnectionSerialNumber:      cip.UINT(a.serialNum),
		VendorID:                    cip.UINT(a.vendorID),
		OriginatorSerialNumber:      cip.UDINT(a.originator),
		ConnectionTimeoutMultiplier: 1,
		OTRPI:                       cip.UDINT(rpiUS),
		OTNetworkConnectionParams:   0x4200 | 4,
		TORPI:                       cip.UDINT(rpiUS),
		TONetworkConnectionParams:   0x4200 | 4,
		TransportTypeTrigger:        0x01,
		ConnectionPathSize:          0,
	}

	foResp, err := c.ForwardOpen(foReq)
	if err != nil {
		return fmt.Errorf("forward open: %w", err)
	}
	fmt.Printf("forward open ok: o->t=0x%08X t->o=0x%08X o->t-api=%dus t->o-api=%dus\n",
		foResp.OTConnectionID, foResp.TOConnectionID, foResp.OTAPI, foResp.TOAPI)

	summary, err := observeCyclicStream(a.udpListen, uint32(foResp.TOConnectionID), a.streamFor)
	if err != nil {
		a.logger.Warnf("observe cyclic stream: %v", err)
	} else {
		fmt.Printf("cyclic stream: %d packets, %d sequence violations\n", summary.packets, summary.violations)
	}

	fcReq := &connmgr.ForwardCloseRequest{
		PriorityTimeTick:       0x03,
		TimeoutTicks:           249,
		ConnectionSerialNumber: cip.UINT(a.serialNum),
		VendorID:               cip.UINT(a.vendorID),
		OriginatorSerialNumber: cip.UDINT(a.originator),
		ConnectionPathSize:     0,
	}
	if _, err := c.ForwardClose(fcReq); err != nil {
		return fmt.Errorf("forward close: %w", err)
	}
	fmt.Println("forward close ok")
	return nil
}

type streamSummary struct {
	packets    int
	violations int
}

// observeCyclicStream listens on listenAddr for the duration and checks
// every received packet against the invariants in spec.md §8: strictly
// incrementing encap sequence (wrapping at 2^28), cip sequence equal to
// the low 16 bits of the encap sequence, and a matching connection id.
func observeCyclicStream(listenAddr string, wantConnID uint32, duration time.Duration) (streamSummary, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return streamSummary{}, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return streamSummary{}, err
	}
	defer conn.Close()

	var summary streamSummary
	var lastSeq uint32
	haveLast := false

	deadline := time.Now().Add(duration)
	buf := make([]byte, 1500)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn.SetReadDeadline(time.Now().Add(remaining))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}

		cpf, err := eip.DecodeCommonPacketFormat(buf[:n])
		if err != nil {
			continue
		}
		addrItem := cpf.FindItemByType(eip.ItemIDSequencedAddress)
		dataItem := cpf.FindItemByType(eip.ItemIDConnectedData)
		if addrItem == nil || dataItem == nil {
			continue
		}
		addr, err := eip.DecodeSequencedAddressItem(addrItem.Data)
		if err != nil {
			continue
		}
		cipSeq, _, err := eip.DecodeConnectedData(dataItem.Data)
		if err != nil {
			continue
		}

		summary.packets++
		if addr.ConnectionID != wantConnID {
			summary.violations++
		}
		if uint32(cipSeq) != addr.EncapSequence&0xFFFF {
			summary.violations++
		}
		if haveLast {
			want := (lastSeq + 1) & 0x0FFFFFFF
			if addr.EncapSequence != want {
				summary.violations++
			}
		} else if addr.EncapSequence != 1 {
			summary.violations++
		}
		lastSeq = addr.EncapSequence
		haveLast = true
	}
	return summary, nil
}
