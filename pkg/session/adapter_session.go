package session

import (
	"sync"

	"github.com/fieldspan/enip-adapter/pkg/eip"
)

// AdapterSession is the device-side per-TCP-connection state machine (§4.2):
// Idle --Register--> Registered --ForwardOpen success--> Registered with an
// active connection. It gates which encapsulation commands are legal in
// each state and records the assigned session handle. The adapter shell
// checks the handle (ValidateHandle) on Send RR Data only; List*, Register
// Session and Unregister Session requests are not checked against it.
type AdapterSession struct {
	mu            sync.Mutex
	handle        uint32
	registered    bool
	hasConnection bool
}

// NewAdapterSession returns a fresh session in the Idle state.
func NewAdapterSession() *AdapterSession {
	return &AdapterSession{}
}

// idleCommands are the only commands permitted before Register Session.
var idleCommands = map[eip.Command]bool{
	eip.CommandListServices:   true,
	eip.CommandListIdentity:   true,
	eip.CommandListInterfaces: true,
	eip.CommandRegisterSession: true,
}

// Permits reports whether cmd is legal given the session's current state.
func (s *AdapterSession) Permits(cmd eip.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return true
	}
	return idleCommands[cmd]
}

// Register transitions the session to Registered and records the handle
// the adapter assigned it.
func (s *AdapterSession) Register(handle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = handle
	s.registered = true
}

// IsRegistered reports whether Register has been called.
func (s *AdapterSession) IsRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// ValidateHandle reports whether handle matches this session's assigned
// handle. The adapter shell answers a Send RR Data that fails this check
// with eip.StatusInvalidSessionHandle.
func (s *AdapterSession) ValidateHandle(handle uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered && s.handle == handle
}

// Handle returns the session's assigned handle (0 before Register).
func (s *AdapterSession) Handle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetHasConnection records whether this session currently owns an active
// CIP connection (set on Forward Open success, cleared on Forward Close).
func (s *AdapterSession) SetHasConnection(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasConnection = v
}

// HasConnection reports whether this session owns an active connection.
func (s *AdapterSession) HasConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasConnection
}
