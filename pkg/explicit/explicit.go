// Package explicit implements CIP Explicit Message dispatch (§4.3): Forward
// Open/Forward Close, the List* discovery commands, and mock replies for
// Get/Set Attribute Single. It has no notion of TCP or session framing
// — callers hand it a decoded CIP request and get back CPF reply items.
package explicit

import (
	"net"

	"github.com/fieldspan/enip-adapter/internal"
	"github.com/fieldspan/enip-adapter/pkg/cip"
	"github.com/fieldspan/enip-adapter/pkg/connmgr"
	"github.com/fieldspan/enip-adapter/pkg/eip"
	"github.com/fieldspan/enip-adapter/pkg/identity"
	"github.com/fieldspan/enip-adapter/pkg/ioimage"
)

// Dispatcher answers CIP Explicit Messages and the ENIP discovery commands
// that share its device-identity and connection-registry state.
type Dispatcher struct {
	registry *connmgr.Registry
	identity identity.Identity
	tcpPort  uint16
	udpPort  uint16
	logger   internal.Logger

	mockAttr *ioimage.Buffer // fixed mock value returned by Get Attribute Single
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(registry *connmgr.Registry, id identity.Identity, tcpPort, udpPort uint16, logger internal.Logger) *Dispatcher {
	if logger == nil {
		logger = internal.NopLogger()
	}
	mock := ioimage.NewBuffer(4)
	mock.Set([]byte{0x01, 0x02, 0x03, 0x04})
	return &Dispatcher{
		registry: registry,
		identity: id,
		tcpPort:  tcpPort,
		udpPort:  udpPort,
		logger:   logger,
		mockAttr: mock,
	}
}

// ListIdentity builds the ListIdentity reply payload.
func (d *Dispatcher) ListIdentity() []byte {
	return eip.EncodeListIdentityResponse(d.identity.ToEIP(), d.tcpPort, d.udpPort)
}

// ListServices builds the ListServices reply payload.
func (d *Dispatcher) ListServices() []byte {
	return eip.EncodeListServicesResponse()
}

// ListInterfaces builds the (empty) ListInterfaces reply payload: an item
// count of zero, since this adapter exposes no non-CIP interfaces.
func (d *Dispatcher) ListInterfaces() []byte {
	return []byte{0x00, 0x00}
}

// Outcome reports the connection-lifecycle side effects of a Dispatch call,
// so a caller (the adapter shell) can update session state and metrics
// without re-parsing the request itself.
type Outcome struct {
	ForwardOpenAccepted bool
	ForwardOpenRejected bool
	ForwardClosed       bool
}

// Dispatch decodes a CIP Message Router request and returns the CPF items
// that should make up the Send RR Data reply. sessionHandle identifies the
// owning session (for Forward Open/Close connection tracking); peerIP is
// the TCP peer's address, used as the Class-1 UDP destination on a
// successful Forward Open.
func (d *Dispatcher) Dispatch(sessionHandle uint32, peerIP net.IP, reqData []byte) ([]eip.CPFItem, Outcome, error) {
	req, err := cip.DecodeMessageRouterRequest(reqData)
	if err != nil {
		return nil, Outcome{}, err
	}

	switch req.Service {
	case connmgr.ServiceForwardOpen:
		return d.forwardOpen(sessionHandle, peerIP, req)
	case connmgr.ServiceForwardClose:
		return d.forwardClose(sessionHandle, req)
	case cip.ServiceGetAttributeSingle:
		items, err := d.getAttributeSingle(req)
		return items, Outcome{}, err
	case cip.ServiceSetAttributeSingle:
		items, err := d.setAttributeSingle(req)
		return items, Outcome{}, err
	default:
		items, err := d.unsupportedService(req)
		return items, Outcome{}, err
	}
}

func (d *Dispatcher) forwardOpen(sessionHandle uint32, peerIP net.IP, req *cip.MessageRouterRequest) ([]eip.CPFItem, Outcome, error) {
	foReq, err := connmgr.DecodeForwardOpenRequest(req.RequestData)
	if err != nil {
		return nil, Outcome{}, err
	}

	foResp, err := d.registry.ForwardOpen(sessionHandle, foReq, peerIP)
	if cipErr, ok := err.(cip.Error); ok {
		items, err := d.cipReply(req.Service, cipErr.Status, cipErr.ExtStatus, nil)
		return items, Outcome{ForwardOpenRejected: true}, err
	} else if err != nil {
		return nil, Outcome{}, err
	}

	respData, err := foResp.Encode()
	if err != nil {
		return nil, Outcome{}, err
	}

	items, err := d.cipReply(req.Service, cip.StatusSuccess, nil, respData)
	if err != nil {
		return nil, Outcome{}, err
	}
	items = append(items, eip.NewCPFItem(eip.ItemIDSockaddrInfo, eip.NewSocketAddressInfo(d.udpPort).Encode()))
	return items, Outcome{ForwardOpenAccepted: true}, nil
}

func (d *Dispatcher) forwardClose(sessionHandle uint32, req *cip.MessageRouterRequest) ([]eip.CPFItem, Outcome, error) {
	fcReq, err := connmgr.DecodeForwardCloseRequest(req.RequestData)
	if err != nil {
		return nil, Outcome{}, err
	}

	fcResp, err := d.registry.ForwardClose(sessionHandle, fcReq)
	if cipErr, ok := err.(cip.Error); ok {
		items, err := d.cipReply(req.Service, cipErr.Status, cipErr.ExtStatus, nil)
		return items, Outcome{}, err
	} else if err != nil {
		return nil, Outcome{}, err
	}

	respData, err := fcResp.Encode()
	if err != nil {
		return nil, Outcome{}, err
	}
	items, err := d.cipReply(req.Service, cip.StatusSuccess, nil, respData)
	return items, Outcome{ForwardClosed: true}, err
}

// getAttributeSingle always answers with the fixed mock attribute value
// (01 02 03 04), regardless of path: spec.md's richer CIP object model is
// out of scope, so every attribute read sees the same simulated bytes.
func (d *Dispatcher) getAttributeSingle(req *cip.MessageRouterRequest) ([]eip.CPFItem, error) {
	return d.cipReply(req.Service, cip.StatusSuccess, nil, d.mockAttr.Snapshot())
}

// setAttributeSingle accepts any payload and always reports success; the
// payload is discarded, so the mock attribute value does not change.
func (d *Dispatcher) setAttributeSingle(req *cip.MessageRouterRequest) ([]eip.CPFItem, error) {
	return d.cipReply(req.Service, cip.StatusSuccess, nil, nil)
}

func (d *Dispatcher) unsupportedService(req *cip.MessageRouterRequest) ([]eip.CPFItem, error) {
	d.logger.Warnf("unsupported CIP service 0x%02X", req.Service)
	return d.cipReply(req.Service, cip.StatusServiceNotSupported, nil, nil)
}

// cipReply wraps a Message Router response for the given request service in
// the standard two-item Send RR Data CPF: Null Address, then Unconnected
// Data carrying the encoded response.
func (d *Dispatcher) cipReply(reqService cip.USINT, status cip.USINT, extStatus []cip.UINT, data []byte) ([]eip.CPFItem, error) {
	resp := &cip.MessageRouterResponse{
		Service:       reqService | 0x80,
		GeneralStatus: status,
		ExtStatusSize: cip.USINT(len(extStatus)),
		ExtStatus:     extStatus,
		ResponseData:  data,
	}
	respBytes, err := resp.Encode()
	if err != nil {
		return nil, err
	}
	return []eip.CPFItem{
		eip.NewCPFItem(eip.ItemIDNullAddress, nil),
		eip.NewCPFItem(eip.ItemIDUnconnectedMessage, respBytes),
	}, nil
}
