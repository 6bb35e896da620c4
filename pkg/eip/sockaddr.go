package eip

import (
	"encoding/binary"
	"fmt"
)

// SocketAddressInfoSize is the fixed wire size of a Socket Address Info item
// payload (family, port, address, 8 zero bytes).
const SocketAddressInfoSize = 16

// SocketAddressInfo carries the UDP destination an originator should send
// Class-1 data to. Unlike every other field in this package, its three
// populated fields are big-endian on the wire (network byte order), matching
// a BSD sockaddr_in laid directly into the packet.
type SocketAddressInfo struct {
	Family  uint16
	Port    uint16
	Address uint32
	Zero    [8]byte
}

// AddressFamilyINET is the only family value this adapter ever sends.
const AddressFamilyINET = 2

// NewSocketAddressInfo builds a Socket Address Info pointing at udpPort. The
// address field is always zero: the scanner is expected to use the TCP
// session's peer address as the data destination, not a literal IP echoed
// here.
func NewSocketAddressInfo(udpPort uint16) SocketAddressInfo {
	return SocketAddressInfo{
		Family: AddressFamilyINET,
		Port:   udpPort,
	}
}

// Encode serializes s in the 16-byte big-endian layout required by §3/§4.1.
func (s SocketAddressInfo) Encode() []byte {
	buf := make([]byte, SocketAddressInfoSize)
	binary.BigEndian.PutUint16(buf[0:2], s.Family)
	binary.BigEndian.PutUint16(buf[2:4], s.Port)
	binary.BigEndian.PutUint32(buf[4:8], s.Address)
	copy(buf[8:16], s.Zero[:])
	return buf
}

// DecodeSocketAddressInfo parses a Socket Address Info item payload.
func DecodeSocketAddressInfo(data []byte) (SocketAddressInfo, error) {
	var s SocketAddressInfo
	if len(data) != SocketAddressInfoSize {
		return s, fmt.Errorf("eip: socket address info: want %d bytes, got %d", SocketAddressInfoSize, len(data))
	}
	s.Family = binary.BigEndian.Uint16(data[0:2])
	s.Port = binary.BigEndian.Uint16(data[2:4])
	s.Address = binary.BigEndian.Uint32(data[4:8])
	copy(s.Zero[:], data[8:16])
	return s, nil
}
