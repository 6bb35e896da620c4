package connmgr

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/pkg/cip"
	"github.com/fieldspan/enip-adapter/pkg/ioimage"
	"github.com/fieldspan/enip-adapter/pkg/producer"
)

// CyclicUDPPort is the fixed destination port Class-1 data is always sent
// to, independent of the TCP session's ephemeral source port.
const CyclicUDPPort = 2222

// Connection holds the negotiated state of the adapter's single allowed
// active CIP connection.
type Connection struct {
	OTConnectionID    uint32
	TOConnectionID    uint32
	OTRPIus           uint32
	TORPIus           uint32
	ConnectionSerial  uint16
	VendorID          uint16
	OriginatorSerial  uint32
	TimeoutMultiplier uint8

	producer *producer.Producer
}

// Hooks lets a caller (the adapter shell) observe Connection lifecycle
// events without the registry importing a metrics package. Every field is
// optional; nil entries are simply not called.
type Hooks struct {
	ForwardOpenAccepted func()
	ForwardOpenRejected func()
	ForwardClosed       func()
	ConnectionFaulted   func()
	CyclicPacketSent    func()
}

// Registry implements the Connection Manager Object's Forward Open/Forward
// Close handling (§4.4): it allocates O→T connection ids, tracks at most
// one Connection active across the whole adapter (not merely per session —
// this is a single-client design), and owns the Cyclic Producer lifecycle.
type Registry struct {
	mu        sync.Mutex
	bySession map[uint32]*Connection
	activeOT  map[uint32]*Connection
	udpConn   *net.UDPConn
	produced  *ioimage.Buffer
	logger    internal.Logger
	rng       *rand.Rand
	hooks     Hooks
}

// NewRegistry builds a Registry. udpConn is the adapter's shared UDP
// socket, reused by every spawned Producer; produced is the buffer each
// Producer reads from on every cycle.
func NewRegistry(udpConn *net.UDPConn, produced *ioimage.Buffer, logger internal.Logger, hooks Hooks) *Registry {
	if logger == nil {
		logger = internal.NopLogger()
	}
	return &Registry{
		bySession: make(map[uint32]*Connection),
		activeOT:  make(map[uint32]*Connection),
		udpConn:   udpConn,
		produced:  produced,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		hooks:     hooks,
	}
}

// ForwardOpen negotiates a new Connection for sessionHandle. peerIP is the
// scanner's address, used as the Class-1 UDP destination. Returns a
// cip.Error on failure (e.g. a connection already active anywhere on the
// adapter — only one Connection is allowed at a time, regardless of which
// session requests it).
func (reg *Registry) ForwardOpen(sessionHandle uint32, req *ForwardOpenRequest, peerIP net.IP) (*ForwardOpenResponse, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if len(reg.bySession) > 0 {
		if reg.hooks.ForwardOpenRejected != nil {
			reg.hooks.ForwardOpenRejected()
		}
		return nil, cip.Error{Status: cip.StatusConnectionFailure, ExtStatus: []cip.UINT{ExtStatusConnectionInUse}}
	}

	otID := reg.allocateOTConnectionIDLocked()

	conn := &Connection{
		OTConnectionID:    otID,
		TOConnectionID:    uint32(req.TOConnectionID),
		OTRPIus:           uint32(req.OTRPI),
		TORPIus:           uint32(req.TORPI),
		ConnectionSerial:  uint16(req.ConnectionSerialNumber),
		VendorID:          uint16(req.VendorID),
		OriginatorSerial:  uint32(req.OriginatorSerialNumber),
		TimeoutMultiplier: uint8(req.ConnectionTimeoutMultiplier),
	}

	peer := &net.UDPAddr{IP: peerIP, Port: CyclicUDPPort}
	rpi := time.Duration(conn.TORPIus) * time.Microsecond

	conn.producer = producer.New(reg.udpConn, peer, conn.TOConnectionID, rpi, reg.produced, reg.logger, func(err error) {
		reg.handleProducerExit(sessionHandle, err)
	})
	if reg.hooks.CyclicPacketSent != nil {
		conn.producer.SetOnSent(reg.hooks.CyclicPacketSent)
	}
	conn.producer.Start()

	reg.bySession[sessionHandle] = conn
	reg.activeOT[otID] = conn

	if reg.hooks.ForwardOpenAccepted != nil {
		reg.hooks.ForwardOpenAccepted()
	}

	return &ForwardOpenResponse{
		OTConnectionID:         cip.UDINT(conn.OTConnectionID),
		TOConnectionID:         cip.UDINT(conn.TOConnectionID),
		ConnectionSerialNumber: cip.UINT(conn.ConnectionSerial),
		VendorID:               cip.UINT(conn.VendorID),
		OriginatorSerialNumber: cip.UDINT(conn.OriginatorSerial),
		OTAPI:                  req.OTRPI,
		TOAPI:                  req.TORPI,
	}, nil
}

// ForwardClose tears down the Connection registered for sessionHandle.
func (reg *Registry) ForwardClose(sessionHandle uint32, req *ForwardCloseRequest) (*ForwardCloseResponse, error) {
	reg.mu.Lock()
	conn, exists := reg.bySession[sessionHandle]
	if !exists {
		reg.mu.Unlock()
		return nil, cip.Error{Status: cip.StatusConnectionFailure, ExtStatus: []cip.UINT{ExtStatusConnectionNotFound}}
	}
	delete(reg.bySession, sessionHandle)
	delete(reg.activeOT, conn.OTConnectionID)
	reg.mu.Unlock()

	conn.producer.Stop()
	if reg.hooks.ForwardClosed != nil {
		reg.hooks.ForwardClosed()
	}

	return &ForwardCloseResponse{
		ConnectionSerialNumber: cip.UINT(conn.ConnectionSerial),
		VendorID:               cip.UINT(conn.VendorID),
		OriginatorSerialNumber: cip.UDINT(conn.OriginatorSerial),
	}, nil
}

// CloseSession tears down any Connection owned by sessionHandle, e.g. on
// TCP connection loss. It is a no-op if no Connection is active.
func (reg *Registry) CloseSession(sessionHandle uint32) {
	reg.mu.Lock()
	conn, exists := reg.bySession[sessionHandle]
	if !exists {
		reg.mu.Unlock()
		return
	}
	delete(reg.bySession, sessionHandle)
	delete(reg.activeOT, conn.OTConnectionID)
	reg.mu.Unlock()

	conn.producer.Stop()
}

// Active reports whether sessionHandle currently owns a Connection.
func (reg *Registry) Active(sessionHandle uint32) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, exists := reg.bySession[sessionHandle]
	return exists
}

// ActiveCount reports how many Connections are currently registered (0 or
// 1 in this adapter's single-connection design).
func (reg *Registry) ActiveCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.bySession)
}

// ByOTConnectionID finds the Connection whose adapter-assigned O→T
// connection id is otID, used to demultiplex inbound Class-1 UDP packets
// that carry it in their Sequenced Address Item.
func (reg *Registry) ByOTConnectionID(otID uint32) (*Connection, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	conn, ok := reg.activeOT[otID]
	return conn, ok
}

func (reg *Registry) handleProducerExit(sessionHandle uint32, err error) {
	reg.mu.Lock()
	conn, exists := reg.bySession[sessionHandle]
	if !exists {
		reg.mu.Unlock()
		return
	}
	if err == nil {
		reg.mu.Unlock()
		return
	}
	delete(reg.bySession, sessionHandle)
	delete(reg.activeOT, conn.OTConnectionID)
	reg.mu.Unlock()
	if reg.hooks.ConnectionFaulted != nil {
		reg.hooks.ConnectionFaulted()
	}
	reg.logger.Infof("connection 0x%08X for session 0x%08X closed: %v", conn.TOConnectionID, sessionHandle, err)
}

// allocateOTConnectionIDLocked returns a pseudo-random, non-zero, currently
// unused O→T connection id. Callers must hold reg.mu.
func (reg *Registry) allocateOTConnectionIDLocked() uint32 {
	for {
		id := reg.rng.Uint32()
		if id == 0 {
			continue
		}
		if _, taken := reg.activeOT[id]; taken {
			continue
		}
		return id
	}
}

// String-formats a Connection for debug logging.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection{OT=0x%08X TO=0x%08X RPI(O→T)=%dus RPI(T→O)=%dus}",
		c.OTConnectionID, c.TOConnectionID, c.OTRPIus, c.TORPIus)
}
