// Package config loads and validates the YAML file that describes one
// BACnet node: its device identity, datalink, and the static address-cache
// entries it should start with.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/krisarmstrong/bacnet-go/internal/bacnet/session"
)

// Datalink names the transport a node's session runs over.
type Datalink string

const (
	DatalinkBIP  Datalink = "bip"
	DatalinkMSTP Datalink = "mstp"
)

// Config is the root of a node's YAML configuration file.
type Config struct {
	Device         Device          `yaml:"device"`
	Datalink       DatalinkConfig  `yaml:"datalink"`
	AddressCache   AddressCache    `yaml:"address_cache"`
	StaticBindings []StaticBinding `yaml:"static_bindings"`
}

// Device describes the local BACnet device the node announces itself as.
type Device struct {
	Instance    uint32 `yaml:"instance"`
	Name        string `yaml:"name"`
	Network     uint16 `yaml:"network"`
	MaxAPDU     int    `yaml:"max_apdu"`
	VendorID    uint32 `yaml:"vendor_id"`
	IsRouter    bool   `yaml:"is_router"`
	BBMDEnabled bool   `yaml:"bbmd_enabled"`
}

// DatalinkConfig selects and parameterizes the transport.
type DatalinkConfig struct {
	Type      Datalink `yaml:"type"`
	Interface string   `yaml:"interface"`   // MS/TP serial device, e.g. "/dev/ttyUSB0"
	Port      int      `yaml:"port"`        // BACnet/IP UDP port, default 47808
	MACAddr   uint8    `yaml:"mac_address"` // MS/TP node address
	Baud      int      `yaml:"baud"`        // MS/TP baud rate
}

// AddressCache configures the on-disk static-binding file, internal/persist.
type AddressCache struct {
	File     string `yaml:"file"`
	Capacity int    `yaml:"capacity"`
}

// StaticBinding pre-seeds one address-cache entry at startup, the YAML
// equivalent of a row in the address-cache file (internal/persist).
type StaticBinding struct {
	DeviceInstance uint32 `yaml:"device_instance"`
	MAC            string `yaml:"mac"` // colon-separated hex octets
	Network        uint16 `yaml:"network"`
	MaxAPDU        int    `yaml:"max_apdu"`
}

// Default returns a Config with spec.md's default tunables filled in.
func Default() *Config {
	return &Config{
		Device: Device{
			Instance: 260001,
			Name:     "bacnet-go",
			MaxAPDU:  1476,
		},
		Datalink: DatalinkConfig{
			Type: DatalinkBIP,
			Port: 47808,
		},
		AddressCache: AddressCache{
			File:     "address_cache",
			Capacity: 128,
		},
	}
}

// Load reads and parses filename as YAML.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", filename, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", filename, err)
	}
	return cfg, nil
}

// Save writes cfg to filename as YAML.
func Save(filename string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", filename, err)
	}
	return nil
}

// SessionConfig translates the loaded file into a session.Config, the
// boundary between the on-disk shape and the runtime package's shape.
func (c *Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.ThisNetwork = c.Device.Network
	sc.IsRouter = c.Device.IsRouter
	sc.BBMDEnabled = c.Device.BBMDEnabled
	sc.AddressCacheCapacity = c.AddressCache.Capacity
	sc.DeviceInstance = c.Device.Instance
	sc.VendorID = c.Device.VendorID
	if c.Device.MaxAPDU > 0 {
		sc.LocalMaxAPDU = c.Device.MaxAPDU
	}
	return sc
}
