// Package persist loads and saves the address cache's static bindings as a
// line-oriented text file, grounded on the original implementation's
// address_file_init (src/bacnet/basic/binding/address.c): one line per
// device, "DeviceID MAC SNET SADR MAX-APDU", with ';' marking a comment
// line. Entries loaded this way are added as static bindings (spec.md
// component C), the same as the original's address_set_device_TTL(...,
// 0, true) call after each parsed row.
package persist

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/address"
	"github.com/krisarmstrong/bacnet-go/internal/bacnet/npdu"
)

// Load reads filename and installs each row as a static address-cache entry
// in book. A missing file is not an error: a fresh session simply starts
// with an empty cache, exactly as the original's fopen failure path did.
func Load(filename string, book *address.Book) error {
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persist: opening %s: %w", filename, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			return fmt.Errorf("persist: %s:%d: expected 5 fields, got %d", filename, lineNo, len(fields))
		}
		deviceID, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("persist: %s:%d: bad device-id: %w", filename, lineNo, err)
		}
		mac, err := ParseMAC(fields[1])
		if err != nil {
			return fmt.Errorf("persist: %s:%d: bad MAC: %w", filename, lineNo, err)
		}
		snet, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return fmt.Errorf("persist: %s:%d: bad SNET: %w", filename, lineNo, err)
		}
		var sadr []byte
		if snet != 0 {
			sadr, err = ParseMAC(fields[3])
			if err != nil {
				return fmt.Errorf("persist: %s:%d: bad SADR: %w", filename, lineNo, err)
			}
		}
		maxAPDU, err := strconv.Atoi(fields[4])
		if err != nil {
			return fmt.Errorf("persist: %s:%d: bad max-apdu: %w", filename, lineNo, err)
		}

		addr := npdu.Address{Net: uint16(snet), Mac: mac}
		if snet != 0 {
			addr.Mac = sadr
		}
		book.Add(uint32(deviceID), maxAPDU, addr)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("persist: reading %s: %w", filename, err)
	}
	return nil
}

// Save writes every entry currently in book's snapshot to filename in the
// same format Load reads, so a long-lived session's learned bindings
// survive a restart as pre-seeded static entries.
func Save(filename string, book *address.Book) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("persist: creating %s: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "; DeviceID MAC SNET SADR MAX-APDU")
	for _, e := range book.Snapshot() {
		snet := e.Address.Net
		sadr := "0"
		mac := formatMAC(e.Address.Mac)
		if snet != 0 {
			sadr = formatMAC(e.Address.Mac)
			mac = "0"
		}
		fmt.Fprintf(w, "%d %s %d %s %d\n", e.DeviceID, mac, snet, sadr, e.MaxAPDU)
	}
	return w.Flush()
}

// ParseMAC decodes a colon-separated hex-octet MAC/SADR field, the same
// encoding address_file_init uses (and the inverse of formatMAC/Save),
// with "0" meaning absent.
func ParseMAC(s string) ([]byte, error) {
	if s == "0" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	mac := make([]byte, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, err
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

func formatMAC(mac []byte) string {
	if len(mac) == 0 {
		return "0"
	}
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
