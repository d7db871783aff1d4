package runtime

import (
	"strings"

	"github.com/aretw0/latch/pkg/domain"
	"github.com/google/uuid"
)

// NewDevice generates a fresh device identity.
func NewDevice() domain.Device {
	return CompleteDevice(domain.Device{})
}

// CompleteDevice fills the empty fields of d with generated identifiers.
func CompleteDevice(d domain.Device) domain.Device {
	if d.DeviceID == "" {
		d.DeviceID = "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}
	if d.PhoneID == "" {
		d.PhoneID = uuid.NewString()
	}
	if d.FamilyDeviceID == "" {
		d.FamilyDeviceID = uuid.NewString()
	}
	if d.AdvertisingID == "" {
		d.AdvertisingID = uuid.NewString()
	}
	return d
}
