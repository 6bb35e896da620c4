package eip

import (
	"encoding/binary"
	"fmt"
)

// SequencedAddressItemSize is the fixed wire size of a Sequenced Address
// Item payload (connection id + encapsulation sequence count).
const SequencedAddressItemSize = 8

// SequencedAddressItem is the CPF address item (type 0x8002) that precedes a
// Connected Data Item in every Class-1 cyclic packet. Both fields are
// little-endian, unlike Socket Address Info.
type SequencedAddressItem struct {
	ConnectionID  uint32
	EncapSequence uint32
}

// Encode serializes the item in its 8-byte little-endian layout.
func (a SequencedAddressItem) Encode() []byte {
	buf := make([]byte, SequencedAddressItemSize)
	binary.LittleEndian.PutUint32(buf[0:4], a.ConnectionID)
	binary.LittleEndian.PutUint32(buf[4:8], a.EncapSequence)
	return buf
}

// DecodeSequencedAddressItem parses a Sequenced Address Item payload.
func DecodeSequencedAddressItem(data []byte) (SequencedAddressItem, error) {
	var a SequencedAddressItem
	if len(data) != SequencedAddressItemSize {
		return a, fmt.Errorf("eip: sequenced address item: want %d bytes, got %d", SequencedAddressItemSize, len(data))
	}
	a.ConnectionID = binary.LittleEndian.Uint32(data[0:4])
	a.EncapSequence = binary.LittleEndian.Uint32(data[4:8])
	return a, nil
}

// EncodeConnectedData builds a Connected Data Item payload (type 0x00B1):
// a little-endian 16-bit CIP sequence count followed by the raw I/O bytes.
func EncodeConnectedData(cipSequence uint16, ioData []byte) []byte {
	buf := make([]byte, 2+len(ioData))
	binary.LittleEndian.PutUint16(buf[0:2], cipSequence)
	copy(buf[2:], ioData)
	return buf
}

// DecodeConnectedData splits a Connected Data Item payload into its CIP
// sequence count and raw I/O bytes.
func DecodeConnectedData(data []byte) (cipSequence uint16, ioData []byte, err error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("eip: connected data item: payload too short (%d bytes)", len(data))
	}
	cipSequence = binary.LittleEndian.Uint16(data[0:2])
	ioData = data[2:]
	return cipSequence, ioData, nil
}

// NewCyclicPacket assembles the two-item CPF payload a Cyclic Producer sends
// over UDP for one Class-1 update: a Sequenced Address Item followed by a
// Connected Data Item.
func NewCyclicPacket(connectionID, encapSequence uint32, ioData []byte) ([]byte, error) {
	addr := SequencedAddressItem{ConnectionID: connectionID, EncapSequence: encapSequence}
	cipSeq := uint16(encapSequence & 0xFFFF)
	cpf := NewCommonPacketFormat(
		NewCPFItem(ItemIDSequencedAddress, addr.Encode()),
		NewCPFItem(ItemIDConnectedData, EncodeConnectedData(cipSeq, ioData)),
	)
	return cpf.Encode()
}
