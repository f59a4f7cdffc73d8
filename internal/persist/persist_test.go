package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/address"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	book := address.New(8, 1476)
	if err := Load(filepath.Join(t.TempDir(), "does-not-exist"), book); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(book.Snapshot()) != 0 {
		t.Fatalf("expected an empty cache")
	}
}

func TestLoadParsesDeviceRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "address_cache")
	contents := "; comment line\n" +
		"4194303 05 0 0 50\n" +
		"55555 C0:A8:00:18:BA:C0 26001 19 50\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	book := address.New(8, 1476)
	if err := Load(path, book); err != nil {
		t.Fatalf("Load: %v", err)
	}

	e, ok := book.GetByDevice(4194303)
	if !ok {
		t.Fatalf("expected device 4194303 to be bound")
	}
	if len(e.Address.Mac) != 1 || e.Address.Mac[0] != 0x05 {
		t.Fatalf("unexpected MAC for device 4194303: %x", e.Address.Mac)
	}

	e2, ok := book.GetByDevice(55555)
	if !ok {
		t.Fatalf("expected device 55555 to be bound")
	}
	if e2.Address.Net != 26001 {
		t.Fatalf("expected network 26001, got %d", e2.Address.Net)
	}
	if len(e2.Address.Mac) != 1 || e2.Address.Mac[0] != 0x19 {
		t.Fatalf("unexpected SADR for device 55555: %x", e2.Address.Mac)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "address_cache")

	book := address.New(8, 1476)
	book.Add(100, 480, npdu.Address{Mac: []byte{0xC0, 0xA8, 0x00, 0x01, 0xBA, 0xC0}})

	if err := Save(path, book); err != nil {
		t.Fatalf("Save: %v", err)
	}

	book2 := address.New(8, 1476)
	if err := Load(path, book2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, ok := book2.GetByDevice(100)
	if !ok {
		t.Fatalf("expected device 100 to round-trip")
	}
	if len(e.Address.Mac) != 6 || e.Address.Mac[5] != 0xC0 {
		t.Fatalf("unexpected MAC after round trip: %x", e.Address.Mac)
	}
}
