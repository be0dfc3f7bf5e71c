package devices

import (
	"errors"
	"strings"
	"time"
)

// UnnamedDevice is shown when neither the overlay nor the platform names a device.
const UnnamedDevice = "Unnamed Device"

var (
	ErrNotFound      = errors.New("devices: overlay not found")
	ErrEmptyLocation = errors.New("devices: location cannot be empty")
	ErrEmptyName     = errors.New("devices: device name cannot be empty")
)

// Overlay is locally stored metadata layered over a platform device.
type Overlay struct {
	DeviceID       string    `json:"id"`
	Name           string    `json:"name"`
	TBOriginalName string    `json:"tbOriginalName,omitempty"`
	CustomerID     string    `json:"customerId,omitempty"`
	Location       *string   `json:"location"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DisplayName picks the overlay name, then the platform name, then a placeholder.
func DisplayName(overlay *Overlay, platformName string) string {
	if overlay != nil && strings.TrimSpace(overlay.Name) != "" {
		return overlay.Name
	}
	if strings.TrimSpace(platformName) != "" {
		return platformName
	}
	return UnnamedDevice
}

// NormalizeLocation trims and validates a user supplied location.
func NormalizeLocation(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", ErrEmptyLocation
	}
	return location, nil
}

// NormalizeName trims and validates a user supplied device name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}
