package connmgr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fieldspan/enip-adapter/pkg/cip"
)

// Service Codes for Connection Manager (Class 0x06)
const (
	ServiceForwardClose      cip.USINT = 0x4E
	ServiceUnconnectedSend   cip.USINT = 0x52
	ServiceForwardOpen       cip.USINT = 0x54
	ServiceGetConnectionData cip.USINT = 0x56
	ServiceSearchConnection  cip.USINT = 0x57
	ServiceCloseConnection   cip.USINT = 0x58
)

// Extended status codes returned in a Forward Open failure's ExtStatus.
const (
	ExtStatusConnectionInUse    cip.UINT = 0x0100
	ExtStatusTransportNotSupp   cip.UINT = 0x0103
	ExtStatusOwnershipConflict  cip.UINT = 0x0106
	ExtStatusConnectionNotFound cip.UINT = 0x0109
	ExtStatusInvalidSegmentType cip.UINT = 0x0315
)

// ForwardOpenRequest is the Forward_Open service request body (§3).
type ForwardOpenRequest struct {
	PriorityTimeTick            cip.BYTE
	TimeoutTicks                cip.USINT
	OTConnectionID              cip.UDINT
	TOConnectionID              cip.UDINT
	ConnectionSerialNumber      cip.UINT
	VendorID                    cip.UINT
	OriginatorSerialNumber      cip.UDINT
	ConnectionTimeoutMultiplier cip.USINT
	Reserved                    [3]cip.BYTE
	OTRPI                       cip.UDINT
	OTNetworkConnectionParams   cip.WORD
	TORPI                       cip.UDINT
	TONetworkConnectionParams   cip.WORD
	TransportTypeTrigger        cip.BYTE
	ConnectionPathSize          cip.USINT
	ConnectionPath              []byte
}

// Encode serializes the request in wire order.
func (r *ForwardOpenRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{
		r.PriorityTimeTick, r.TimeoutTicks, r.OTConnectionID, r.TOConnectionID,
		r.ConnectionSerialNumber, r.VendorID, r.OriginatorSerialNumber,
		r.ConnectionTimeoutMultiplier, r.Reserved, r.OTRPI, r.OTNetworkConnectionParams,
		r.TORPI, r.TONetworkConnectionParams, r.TransportTypeTrigger, r.ConnectionPathSize,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.Write(r.ConnectionPath)
	return buf.Bytes(), nil
}

// DecodeForwardOpenRequest parses a Forward_Open request body.
func DecodeForwardOpenRequest(data []byte) (*ForwardOpenRequest, error) {
	r := &ForwardOpenRequest{}
	buf := bytes.NewReader(data)

	fields := []any{
		&r.PriorityTimeTick, &r.TimeoutTicks, &r.OTConnectionID, &r.TOConnectionID,
		&r.ConnectionSerialNumber, &r.VendorID, &r.OriginatorSerialNumber,
		&r.ConnectionTimeoutMultiplier, &r.Reserved, &r.OTRPI, &r.OTNetworkConnectionParams,
		&r.TORPI, &r.TONetworkConnectionParams, &r.TransportTypeTrigger, &r.ConnectionPathSize,
	}
	for _, f := range fields {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("connmgr: decode forward open request: %w", err)
		}
	}

	pathLen := int(r.ConnectionPathSize) * 2
	r.ConnectionPath = make([]byte, pathLen)
	if pathLen > 0 {
		if _, err := io.ReadFull(buf, r.ConnectionPath); err != nil {
			return nil, fmt.Errorf("connmgr: decode forward open request path: %w", err)
		}
	}
	return r, nil
}

// ForwardOpenResponse is the Forward_Open success reply body.
type ForwardOpenResponse struct {
	OTConnectionID         cip.UDINT
	TOConnectionID         cip.UDINT
	ConnectionSerialNumber cip.UINT
	VendorID               cip.UINT
	OriginatorSerialNumber cip.UDINT
	OTAPI                  cip.UDINT
	TOAPI                  cip.UDINT
	ApplicationReplySize   cip.USINT
	Reserved               cip.USINT
	ApplicationReply       []byte
}

// Encode serializes the response in wire order.
func (r *ForwardOpenResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{
		r.OTConnectionID, r.TOConnectionID, r.ConnectionSerialNumber, r.VendorID,
		r.OriginatorSerialNumber, r.OTAPI, r.TOAPI, r.ApplicationReplySize, r.Reserved,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.Write(r.ApplicationReply)
	return buf.Bytes(), nil
}

// DecodeForwardOpenResponse parses a Forward_Open success reply body.
func DecodeForwardOpenResponse(data []byte) (*ForwardOpenResponse, error) {
	r := &ForwardOpenResponse{}
	buf := bytes.NewReader(data)

	fields := []any{
		&r.OTConnectionID, &r.TOConnectionID, &r.ConnectionSerialNumber, &r.VendorID,
		&r.OriginatorSerialNumber, &r.OTAPI, &r.TOAPI, &r.ApplicationReplySize, &r.Reserved,
	}
	for _, f := range fields {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("connmgr: decode forward open response: %w", err)
		}
	}
	if remaining := buf.Len(); remaining > 0 {
		r.ApplicationReply = make([]byte, remaining)
		buf.Read(r.ApplicationReply)
	}
	return r, nil
}

// ForwardCloseRequest is the Forward_Close service request body.
type ForwardCloseRequest struct {
	PriorityTimeTick       cip.BYTE
	TimeoutTicks           cip.USINT
	ConnectionSerialNumber cip.UINT
	VendorID               cip.UINT
	OriginatorSerialNumber cip.UDINT
	ConnectionPathSize     cip.USINT
	Reserved               cip.USINT
	ConnectionPath         []byte
}

// Encode serializes the request in wire order.
func (r *ForwardCloseRequest) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{
		r.PriorityTimeTick, r.TimeoutTicks, r.ConnectionSerialNumber, r.VendorID,
		r.OriginatorSerialNumber, r.ConnectionPathSize, r.Reserved,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.Write(r.ConnectionPath)
	return buf.Bytes(), nil
}

// DecodeForwardCloseRequest parses a Forward_Close request body.
func DecodeForwardCloseRequest(data []byte) (*ForwardCloseRequest, error) {
	r := &ForwardCloseRequest{}
	buf := bytes.NewReader(data)

	fields := []any{
		&r.PriorityTimeTick, &r.TimeoutTicks, &r.ConnectionSerialNumber, &r.VendorID,
		&r.OriginatorSerialNumber, &r.ConnectionPathSize, &r.Reserved,
	}
	for _, f := range fields {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("connmgr: decode forward close request: %w", err)
		}
	}

	pathLen := int(r.ConnectionPathSize) * 2
	r.ConnectionPath = make([]byte, pathLen)
	if pathLen > 0 {
		if _, err := io.ReadFull(buf, r.ConnectionPath); err != nil {
			return nil, fmt.Errorf("connmgr: decode forward close request path: %w", err)
		}
	}
	return r, nil
}

// ForwardCloseResponse is the Forward_Close success reply body.
type ForwardCloseResponse struct {
	ConnectionSerialNumber cip.UINT
	VendorID               cip.UINT
	OriginatorSerialNumber cip.UDINT
	ApplicationReplySize   cip.USINT
	Reserved               cip.USINT
	ApplicationReply       []byte
}

// Encode serializes the response in wire order.
func (r *ForwardCloseResponse) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	fields := []any{
		r.ConnectionSerialNumber, r.VendorID, r.OriginatorSerialNumber,
		r.ApplicationReplySize, r.Reserved,
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	buf.Write(r.ApplicationReply)
	return buf.Bytes(), nil
}

// DecodeForwardCloseResponse parses a Forward_Close success reply body.
func DecodeForwardCloseResponse(data []byte) (*ForwardCloseResponse, error) {
	r := &ForwardCloseResponse{}
	buf := bytes.NewReader(data)

	fields := []any{
		&r.ConnectionSerialNumber, &r.VendorID, &r.OriginatorSerialNumber,
		&r.ApplicationReplySize, &r.Reserved,
	}
	for _, f := range fields {
		if err := binary.Read(buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("connmgr: decode forward close response: %w", err)
		}
	}
	if remaining := buf.Len(); remaining > 0 {
		r.ApplicationReply = make([]byte, remaining)
		buf.Read(r.ApplicationReply)
	}
	return r, nil
}
