package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	id := Default()
	if id.VendorID == 0 {
		t.Error("Default() VendorID should be non-zero")
	}
	if id.ProductName == "" {
		t.Error("Default() ProductName should be non-empty")
	}
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	id, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if id != Default() {
		t.Errorf("Load(\"\") = %+v, want Default() %+v", id, Default())
	}
}

func TestLoad_OverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.yaml")
	contents := "vendor_id: 999\nproduct_name: \"Custom Adapter\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	id, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if id.VendorID != 999 {
		t.Errorf("VendorID = %d, want 999", id.VendorID)
	}
	if id.ProductName != "Custom Adapter" {
		t.Errorf("ProductName = %q, want %q", id.ProductName, "Custom Adapter")
	}
	// Fields absent from the file keep their Default() value.
	if id.DeviceType != Default().DeviceType {
		t.Errorf("DeviceType = %d, want unchanged default %d", id.DeviceType, Default().DeviceType)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected Load to fail for a missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail for malformed YAML")
	}
}

func TestIdentity_ToEIP(t *testing.T) {
	id := Identity{
		VendorID:      7,
		ProductName:   "Widget",
		MajorRevision: 2,
		MinorRevision: 1,
	}
	eipID := id.ToEIP()
	if eipID.VendorID != 7 {
		t.Errorf("VendorID = %d, want 7", eipID.VendorID)
	}
	if eipID.ProductName != "Widget" {
		t.Errorf("ProductName = %q, want %q", eipID.ProductName, "Widget")
	}
	if eipID.MajorRevision != 2 || eipID.MinorRevision != 1 {
		t.Errorf("Revision = %d.%d, want 2.1", eipID.MajorRevision, eipID.MinorRevision)
	}
	if eipID.State != 0x03 {
		t.Errorf("State = 0x%02X, want 0x03 (Operational)", eipID.State)
	}
}
