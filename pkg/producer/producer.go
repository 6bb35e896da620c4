// Package producer implements the Cyclic Producer: one goroutine per active
// Connection that sends Class-1 I/O data to a scanner at a fixed RPI
// cadence over UDP.
package producer

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/pkg/eip"
	"github.com/fieldspan/enip-adapter/pkg/ioimage"
)

// Source supplies the bytes a Producer sends on each cycle.
type Source interface {
	Snapshot() []byte
}

var _ Source = (*ioimage.Buffer)(nil)

// Producer sends one Class-1 cyclic packet to peer every RPI, using
// ConnectionID as the wire connection id (the T→O connection id, per the
// sequence invariant that the packet's connection id always matches it).
type Producer struct {
	conn         *net.UDPConn
	peer         *net.UDPAddr
	connectionID uint32
	rpi          time.Duration
	source       Source
	logger       internal.Logger
	breaker      *gobreaker.CircuitBreaker

	seq  uint32
	stop chan struct{}
	done chan struct{}

	mu        sync.Mutex
	stopped   bool
	fatalErr  error
	onExit    func(err error)
	onSent    func()
	startOnce sync.Once
}

// New builds a Producer. conn is shared with the adapter's inbound UDP
// listener; peer is the scanner's (host, 2222) destination. onExit, if
// non-nil, is called exactly once when the producer's run loop returns,
// with the error that ended it (nil on a clean Stop). onSent, if non-nil,
// is called after every successful transmission (metrics hook).
func New(conn *net.UDPConn, peer *net.UDPAddr, connectionID uint32, rpi time.Duration, source Source, logger internal.Logger, onExit func(err error)) *Producer {
	if logger == nil {
		logger = internal.NopLogger()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cyclic-producer",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
	})
	return &Producer{
		conn:         conn,
		peer:         peer,
		connectionID: connectionID,
		rpi:          rpi,
		source:       source,
		logger:       logger,
		breaker:      breaker,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		onExit:       onExit,
	}
}

// SetOnSent installs the metrics hook called after every successful
// transmission. Must be called before Start.
func (p *Producer) SetOnSent(fn func()) {
	p.onSent = fn
}

// Start launches the producer's send loop in its own goroutine. Safe to
// call once; subsequent calls are no-ops.
func (p *Producer) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop requests the producer terminate and blocks until it has.
func (p *Producer) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Producer) run() {
	var exitErr error
	defer func() {
		close(p.done)
		if p.onExit != nil {
			p.onExit(exitErr)
		}
	}()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		p.seq = (p.seq + 1) & 0x0FFFFFFF
		packet, err := eip.NewCyclicPacket(p.connectionID, p.seq, p.source.Snapshot())
		if err != nil {
			p.logger.Errorf("producer 0x%08X: encode cyclic packet: %v", p.connectionID, err)
			exitErr = err
			return
		}

		_, sendErr := p.breaker.Execute(func() (any, error) {
			return nil, p.send(packet)
		})
		if sendErr != nil {
			if errors.Is(sendErr, gobreaker.ErrOpenState) {
				p.logger.Infof("producer 0x%08X: terminating after repeated UDP send failures", p.connectionID)
				exitErr = sendErr
				return
			}
			p.logger.Warnf("producer 0x%08X: send failed, will retry: %v", p.connectionID, sendErr)
		} else if p.onSent != nil {
			p.onSent()
		}

		select {
		case <-p.stop:
			return
		case <-time.After(p.rpi):
		}
	}
}

func (p *Producer) send(packet []byte) error {
	_, err := p.conn.WriteToUDP(packet, p.peer)
	return err
}
