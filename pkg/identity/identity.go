// Package identity holds the simulated device's identity attributes,
// advertised in the List Identity reply and loadable from an optional YAML
// file. Get Attribute Single does not read these values.
package identity

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fieldspan/enip-adapter/pkg/eip"
)

// Identity is the YAML-serializable form of the device's identity values.
type Identity struct {
	EncapsVersion uint16 `yaml:"encapsulation_version"`
	VendorID      uint16 `yaml:"vendor_id"`
	DeviceType    uint16 `yaml:"device_type"`
	ProductCode   uint16 `yaml:"product_code"`
	MajorRevision uint8  `yaml:"major_revision"`
	MinorRevision uint8  `yaml:"minor_revision"`
	SerialNumber  uint32 `yaml:"serial_number"`
	ProductName   string `yaml:"product_name"`
}

// Default returns the identity values this adapter advertises when no
// identity file is supplied.
func Default() Identity {
	return Identity{
		EncapsVersion: 1,
		VendorID:      1,
		DeviceType:    0x0C, // Communications Adapter
		ProductCode:   1,
		MajorRevision: 1,
		MinorRevision: 0,
		SerialNumber:  1,
		ProductName:   "Simulated EtherNet/IP Adapter",
	}
}

// Load reads an Identity from a YAML file at path. Fields absent from the
// file keep their Default() value.
func Load(path string) (Identity, error) {
	id := Default()
	if path == "" {
		return id, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &id); err != nil {
		return Identity{}, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	return id, nil
}

// ToEIP converts Identity into the eip.Identity shape the encapsulation
// layer's List Identity reply builder expects.
func (id Identity) ToEIP() eip.Identity {
	return eip.Identity{
		EncapsVersion: id.EncapsVersion,
		VendorID:      id.VendorID,
		DeviceType:    id.DeviceType,
		ProductCode:   id.ProductCode,
		MajorRevision: id.MajorRevision,
		MinorRevision: id.MinorRevision,
		Status:        0,
		SerialNumber:  id.SerialNumber,
		ProductName:   id.ProductName,
		State:         0x03, // Operational
	}
}
