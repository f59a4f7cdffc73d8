// Package config provides configuration validation
package config

import (
	"fmt"
)

// Validator validates configuration files
type Validator struct {
	errors *ConfigErrorList
	file   string
}

// NewValidator creates a new configuration validator
func NewValidator(file string) *Validator {
	return &Validator{
		errors: &ConfigErrorList{File: file, Valid: true},
		file:   file,
	}
}

// Validate validates a complete configuration
func (v *Validator) Validate(cfg *Config) *ConfigErrorList {
	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateDevice(&cfg.Device)
	v.validateDatalink(&cfg.Datalink)
	v.validateAddressCache(&cfg.AddressCache)
	v.validateStaticBindings(cfg.StaticBindings)

	return v.errors
}

func (v *Validator) validateDevice(d *Device) {
	if d.Instance == 0 {
		v.addError("device.instance", "device instance number is required")
	} else if d.Instance > 0x3FFFFF {
		v.addError("device.instance", fmt.Sprintf("device instance %d exceeds the 22-bit maximum (4194303)", d.Instance))
	}

	if d.Name == "" {
		v.addWarning("device.name", "device has no object-name set")
	}

	if d.MaxAPDU <= 0 {
		v.addError("device.max_apdu", "max_apdu must be a positive number of octets")
	} else if d.MaxAPDU > 1476 {
		v.addWarning("device.max_apdu", fmt.Sprintf("max_apdu %d exceeds the BACnet/IP default MTU of 1476", d.MaxAPDU))
	}

	if d.BBMDEnabled && d.Network == 0 {
		v.addWarning("device.network", "bbmd_enabled is set but device.network is 0 (local network)")
	}
}

func (v *Validator) validateDatalink(dl *DatalinkConfig) {
	switch dl.Type {
	case DatalinkBIP:
		if dl.Port == 0 {
			v.addWarning("datalink.port", "no UDP port set, defaulting to 47808")
		}
	case DatalinkMSTP:
		if dl.Interface == "" {
			v.addError("datalink.interface", "mstp datalink requires a serial interface path")
		}
		if dl.Baud == 0 {
			v.addWarning("datalink.baud", "no baud rate set, defaulting to 38400")
		}
	case "":
		v.addError("datalink.type", "datalink.type is required (bip or mstp)")
	default:
		v.addError("datalink.type", fmt.Sprintf("unknown datalink type: %s (valid: bip, mstp)", dl.Type))
	}
}

func (v *Validator) validateAddressCache(ac *AddressCache) {
	if ac.Capacity < 0 {
		v.addError("address_cache.capacity", "capacity cannot be negative")
	}
	if ac.Capacity == 0 {
		v.addWarning("address_cache.capacity", "address cache capacity is 0, no bindings can be held")
	}
}

func (v *Validator) validateStaticBindings(bindings []StaticBinding) {
	seen := make(map[uint32]bool, len(bindings))
	for i, b := range bindings {
		prefix := fmt.Sprintf("static_bindings[%d]", i)
		if b.DeviceInstance == 0 {
			v.addError(prefix+".device_instance", "device_instance is required")
		} else if seen[b.DeviceInstance] {
			v.addError(prefix+".device_instance", fmt.Sprintf("duplicate static binding for device %d", b.DeviceInstance))
		}
		seen[b.DeviceInstance] = true

		if b.MAC == "" {
			v.addError(prefix+".mac", "mac is required")
		}
		if b.MaxAPDU <= 0 {
			v.addWarning(prefix+".max_apdu", "max_apdu not set, the device's reported value will be used once discovered")
		}
	}
}

func (v *Validator) addError(field, message string) {
	v.errors.Add(NewConfigError(v.file, field, message))
}

func (v *Validator) addWarning(field, message string) {
	v.errors.Add(NewConfigWarning(v.file, field, message))
}
