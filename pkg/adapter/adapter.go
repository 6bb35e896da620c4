// Package adapter implements the Adapter shell (§4.6): it owns the TCP
// listen/accept loop, the shared UDP socket, and the HTTP status/metrics
// surface, and wires the Session, CIP Explicit, Connection Manager, and
// Cyclic Producer layers together for the lifetime of the process.
package adapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/internal/telemetry"
	"github.com/fieldspan/enip-adapter/pkg/connmgr"
	"github.com/fieldspan/enip-adapter/pkg/eip"
	"github.com/fieldspan/enip-adapter/pkg/explicit"
	"github.com/fieldspan/enip-adapter/pkg/identity"
	"github.com/fieldspan/enip-adapter/pkg/ioimage"
	"github.com/fieldspan/enip-adapter/pkg/session"
)

// Config carries everything needed to construct an Adapter.
type Config struct {
	Host         string
	TCPPort      uint16
	UDPPort      uint16
	MetricsAddr  string // empty disables the HTTP status/metrics listener
	Identity     identity.Identity
	ProducedSize int // size in bytes of the T->O I/O image, default 32
	ConsumedSize int // size in bytes of the O->T I/O image, default 32
	Logger       internal.Logger
	Telemetry    *telemetry.Publisher
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = internal.NopLogger()
	}
	if c.ProducedSize == 0 {
		c.ProducedSize = 32
	}
	if c.ConsumedSize == 0 {
		c.ConsumedSize = 32
	}
	return c
}

// Adapter is the single-client EtherNet/IP adapter described by §4.6: one
// TCP listener accepting explicit-message sessions, one shared UDP socket
// carrying Class-1 cyclic data, and an HTTP surface for ops visibility.
type Adapter struct {
	cfg        Config
	logger     internal.Logger
	telemetry  *telemetry.Publisher
	metrics    *metrics
	io         *ioimage.Pair
	registry   *connmgr.Registry
	dispatcher *explicit.Dispatcher

	tcpListener net.Listener
	udpConn     *net.UDPConn
	httpServer  *http.Server

	sessionCounter atomic.Uint32

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds an Adapter. Start must be called to bind sockets and begin
// serving.
func New(cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		cfg:       cfg,
		logger:    cfg.Logger,
		telemetry: cfg.Telemetry,
		io:        ioimage.NewPair(cfg.ProducedSize, cfg.ConsumedSize),
		stopCh:    make(chan struct{}),
	}
}

// Produced returns the buffer holding the adapter's T->O I/O data. Whatever
// out-of-scope data source the deployment wires up writes here; the Cyclic
// Producer reads it on every cycle.
func (a *Adapter) Produced() *ioimage.Buffer { return a.io.Produced }

// Consumed returns the buffer holding the most recently received O->T I/O
// data, demultiplexed from inbound Class-1 UDP packets.
func (a *Adapter) Consumed() *ioimage.Buffer { return a.io.Consumed }

// TCPAddr returns the bound TCP listener address. Valid after Start.
func (a *Adapter) TCPAddr() net.Addr { return a.tcpListener.Addr() }

// UDPAddr returns the bound UDP socket address. Valid after Start.
func (a *Adapter) UDPAddr() net.Addr { return a.udpConn.LocalAddr() }

// Start binds the TCP and UDP sockets, launches the accept loop, the
// inbound UDP demux loop, and (if configured) the HTTP status/metrics
// server. It returns once both sockets are bound; serving continues on
// background goroutines until Stop is called.
func (a *Adapter) Start() error {
	a.metrics = newMetrics()

	tcpAddr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.TCPPort)
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("adapter: listen tcp %s: %w", tcpAddr, err)
	}
	a.tcpListener = ln

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.UDPPort))
	if err != nil {
		ln.Close()
		return fmt.Errorf("adapter: resolve udp %s:%d: %w", a.cfg.Host, a.cfg.UDPPort, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("adapter: listen udp %v: %w", udpAddr, err)
	}
	a.udpConn = udpConn

	hooks := connmgr.Hooks{
		ForwardOpenAccepted: func() {
			a.metrics.forwardOpensOK.Inc()
			a.metrics.activeConnections.Set(float64(a.registry.ActiveCount()))
		},
		ForwardOpenRejected: func() { a.metrics.forwardOpensFailed.Inc() },
		ForwardClosed: func() {
			a.metrics.activeConnections.Set(float64(a.registry.ActiveCount()))
		},
		ConnectionFaulted: func() {
			a.metrics.producerFaults.Inc()
			a.metrics.activeConnections.Set(float64(a.registry.ActiveCount()))
		},
		CyclicPacketSent: func() { a.metrics.cyclicPacketsSent.Inc() },
	}
	a.registry = connmgr.NewRegistry(udpConn, a.io.Produced, a.logger, hooks)
	a.dispatcher = explicit.NewDispatcher(a.registry, a.cfg.Identity, a.cfg.TCPPort, a.cfg.UDPPort, a.logger)

	a.wg.Add(2)
	go a.acceptLoop()
	go a.udpReceiveLoop()

	if a.cfg.MetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.Get("/status", a.statusHandler)
		a.httpServer = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Errorf("status http server: %v", err)
			}
		}()
	}

	a.logger.Infof("adapter listening: tcp=%s udp=%s", ln.Addr(), udpConn.LocalAddr())
	return nil
}

// Stop signals every background goroutine to exit and blocks until they
// have, closing both sockets so any blocked read/send wakes immediately.
func (a *Adapter) Stop() error {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		if a.tcpListener != nil {
			a.tcpListener.Close()
		}
		if a.udpConn != nil {
			a.udpConn.Close()
		}
		if a.httpServer != nil {
			a.httpServer.Close()
		}
	})
	a.wg.Wait()
	if a.telemetry != nil {
		a.telemetry.Close()
	}
	return nil
}

type statusSnapshot struct {
	ActiveConnections int    `json:"active_connections"`
	TCPAddr           string `json:"tcp_addr"`
	UDPAddr           string `json:"udp_addr"`
}

func (a *Adapter) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := statusSnapshot{
		ActiveConnections: a.registry.ActiveCount(),
		TCPAddr:           a.tcpListener.Addr().String(),
		UDPAddr:           a.udpConn.LocalAddr().String(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (a *Adapter) acceptLoop() {
	defer a.wg.Done()
	for {
		conn, err := a.tcpListener.Accept()
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
				a.logger.Errorf("accept: %v", err)
				return
			}
		}
		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// handleConn drives one Session's request/reply loop for the lifetime of a
// TCP connection (§4.2, §4.6). Every accepted TCP connection gets its own
// Session and goroutine; the one-active-Connection limit is enforced by the
// Registry at Forward Open, not at accept time.
func (a *Adapter) handleConn(conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()

	peerIP := tcpPeerIP(conn)
	sess := session.NewAdapterSession()

	defer func() {
		if h := sess.Handle(); h != 0 {
			a.registry.CloseSession(h)
			a.publishEvent(telemetry.Event{Kind: "session_closed", SessionID: h})
		}
	}()

	for {
		header := &eip.EncapsulationHeader{}
		if err := header.Decode(conn); err != nil {
			if err != io.EOF {
				a.logger.Debugf("session read header: %v", err)
			}
			return
		}

		payload := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				a.logger.Debugf("session read payload: %v", err)
				return
			}
		}

		replyPayload, status, closeAfter := a.handleCommand(sess, header, payload, peerIP)

		if header.Command == eip.CommandUnregisterSession {
			return
		}

		reply := eip.EncapsulationHeader{
			Command:       header.Command,
			SessionHandle: eip.SessionHandle(sess.Handle()),
			Status:        status,
			SenderContext: header.SenderContext,
			Length:        uint16(len(replyPayload)),
		}

		if err := reply.Encode(conn); err != nil {
			a.logger.Debugf("session write header: %v", err)
			return
		}
		if len(replyPayload) > 0 {
			if _, err := conn.Write(replyPayload); err != nil {
				a.logger.Debugf("session write payload: %v", err)
				return
			}
		}

		if closeAfter {
			return
		}
	}
}

// handleCommand dispatches one decoded ENIP command and returns the reply
// payload (header fields are filled in by the caller), the ENIP status to
// report, and whether the connection should be closed afterward.
func (a *Adapter) handleCommand(sess *session.AdapterSession, header *eip.EncapsulationHeader, payload []byte, peerIP net.IP) ([]byte, uint32, bool) {
	if !sess.Permits(header.Command) {
		return nil, eip.StatusInvalidCommand, false
	}

	switch header.Command {
	case eip.CommandListServices:
		return a.dispatcher.ListServices(), eip.StatusSuccess, false

	case eip.CommandListIdentity:
		return a.dispatcher.ListIdentity(), eip.StatusSuccess, false

	case eip.CommandListInterfaces:
		return a.dispatcher.ListInterfaces(), eip.StatusSuccess, false

	case eip.CommandRegisterSession:
		handle := a.sessionCounter.Add(1)
		sess.Register(handle)
		a.metrics.sessionsRegistered.Inc()
		a.publishEvent(telemetry.Event{Kind: "session_registered", SessionID: handle})
		data, _ := eip.NewRegisterSessionData().Encode()
		return data, eip.StatusSuccess, false

	case eip.CommandUnregisterSession:
		return nil, eip.StatusSuccess, true

	case eip.CommandSendRRData:
		if !sess.ValidateHandle(uint32(header.SessionHandle)) {
			return nil, eip.StatusInvalidSessionHandle, false
		}
		return a.handleSendRRData(sess, peerIP, payload)

	case eip.CommandSendUnitData:
		return nil, eip.StatusInvalidCommand, false

	default:
		return nil, eip.StatusInvalidCommand, false
	}
}

// sendRRDataHeaderSize is the 6-byte Interface Handle + Timeout prefix
// every Send RR Data request and reply payload carries ahead of its CPF.
const sendRRDataHeaderSize = 6

func (a *Adapter) handleSendRRData(sess *session.AdapterSession, peerIP net.IP, payload []byte) ([]byte, uint32, bool) {
	if len(payload) < sendRRDataHeaderSize {
		return nil, eip.StatusIncorrectData, false
	}
	cpf, err := eip.DecodeCommonPacketFormat(payload[sendRRDataHeaderSize:])
	if err != nil {
		a.logger.Warnf("send rr data: decode cpf: %v", err)
		return nil, eip.StatusIncorrectData, false
	}
	item := cpf.FindItemByType(eip.ItemIDUnconnectedMessage)
	if item == nil {
		return nil, eip.StatusIncorrectData, false
	}

	items, outcome, err := a.dispatcher.Dispatch(sess.Handle(), peerIP, item.Data)
	if err != nil {
		a.logger.Warnf("send rr data: dispatch: %v", err)
		return nil, eip.StatusIncorrectData, false
	}

	if outcome.ForwardOpenAccepted {
		sess.SetHasConnection(true)
		a.publishEvent(telemetry.Event{Kind: "connection_opened", SessionID: sess.Handle()})
	}
	if outcome.ForwardClosed {
		sess.SetHasConnection(false)
		a.publishEvent(telemetry.Event{Kind: "connection_closed", SessionID: sess.Handle()})
	}

	replyCPF := eip.NewCommonPacketFormat(items...)
	cpfBytes, err := replyCPF.Encode()
	if err != nil {
		return nil, eip.StatusIncorrectData, false
	}
	out := make([]byte, sendRRDataHeaderSize+len(cpfBytes))
	copy(out[sendRRDataHeaderSize:], cpfBytes)
	return out, eip.StatusSuccess, false
}

func (a *Adapter) publishEvent(ev telemetry.Event) {
	if a.telemetry != nil {
		a.telemetry.Publish(ev)
	}
}

// udpReceiveLoop demultiplexes inbound Class-1 cyclic packets (the
// best-effort consumed-data path described in SPEC_FULL.md §5): each
// packet's Sequenced Address Item names the O→T connection id it belongs
// to, and the Connected Data Item's payload (after its CIP sequence count)
// is written into the consumed-data image.
func (a *Adapter) udpReceiveLoop() {
	defer a.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := a.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.stopCh:
				return
			default:
				a.logger.Debugf("udp receive: %v", err)
				return
			}
		}
		a.handleInboundCyclic(buf[:n])
	}
}

func (a *Adapter) handleInboundCyclic(packet []byte) {
	cpf, err := eip.DecodeCommonPacketFormat(packet)
	if err != nil {
		return
	}
	addrItem := cpf.FindItemByType(eip.ItemIDSequencedAddress)
	dataItem := cpf.FindItemByType(eip.ItemIDConnectedData)
	if addrItem == nil || dataItem == nil {
		return
	}
	addr, err := eip.DecodeSequencedAddressItem(addrItem.Data)
	if err != nil {
		return
	}
	if _, ok := a.registry.ByOTConnectionID(addr.ConnectionID); !ok {
		return
	}
	_, ioData, err := eip.DecodeConnectedData(dataItem.Data)
	if err != nil {
		return
	}
	a.io.Consumed.Set(ioData)
}

func tcpPeerIP(conn net.Conn) net.IP {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return net.IPv4zero
}
