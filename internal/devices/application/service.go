package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Dipeshbist/Yeti-Server/internal/auth"
	devices "github.com/Dipeshbist/Yeti-Server/internal/devices/domain"
	"github.com/Dipeshbist/Yeti-Server/internal/tbadapter"
	"github.com/Dipeshbist/Yeti-Server/internal/users"
)

// ErrNoCustomer is returned when a listing needs a customer the user lacks.
var ErrNoCustomer = errors.New("devices: user has no customer")

// Upstream is the slice of the platform client used for device browsing.
type Upstream interface {
	DeviceInfo(ctx context.Context, deviceID string) (tbadapter.DeviceInfo, error)
	DeviceByName(ctx context.Context, name string) (tbadapter.DeviceInfo, error)
	DevicesByIDs(ctx context.Context, ids []string) ([]tbadapter.DeviceInfo, error)
	TenantDevices(ctx context.Context, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error)
	CustomerDevices(ctx context.Context, customerID string, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error)
	TenantDashboards(ctx context.Context, q tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error)
	CustomerDashboards(ctx context.Context, customerID string, q tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error)
}

// OverlayStore persists local device metadata.
type OverlayStore interface {
	Get(ctx context.Context, deviceID string) (*devices.Overlay, error)
	UpsertLocation(ctx context.Context, deviceID, name, customerID, location string) (*devices.Overlay, error)
	Rename(ctx context.Context, deviceID, name, originalName, customerID string) (*devices.Overlay, error)
}

// UserDirectory looks up accounts by id.
type UserDirectory interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// Service answers device browsing and overlay requests.
type Service struct {
	upstream Upstream
	overlays OverlayStore
	users    UserDirectory
	logger   *zap.Logger
}

// NewService constructs a device service.
func NewService(upstream Upstream, overlays OverlayStore, directory UserDirectory, logger *zap.Logger) (*Service, error) {
	if upstream == nil {
		return nil, errors.New("devices: nil upstream")
	}
	if overlays == nil {
		return nil, errors.New("devices: nil overlay store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{upstream: upstream, overlays: overlays, users: directory, logger: logger}, nil
}

// Info returns the platform record of a device the caller may read.
func (s *Service) Info(ctx context.Context, deviceID string) (tbadapter.DeviceInfo, error) {
	info, err := s.upstream.DeviceInfo(ctx, deviceID)
	if err != nil {
		return tbadapter.DeviceInfo{}, err
	}
	if err := auth.EnsureCustomer(ctx, info.CustomerRef()); err != nil {
		return tbadapter.DeviceInfo{}, err
	}
	return info, nil
}

// MergedInfo is the platform record flattened with the local overlay.
type MergedInfo struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	TBName            string  `json:"tbName"`
	Type              string  `json:"type"`
	CustomerTitle     string  `json:"customerTitle,omitempty"`
	DeviceProfileName string  `json:"deviceProfileName,omitempty"`
	Location          *string `json:"location"`
	CreatedTime       int64   `json:"createdTime"`
	Active            *bool   `json:"active,omitempty"`
}

// MergedInfo combines the platform record with the overlay; the overlay name
// wins when set.
func (s *Service) MergedInfo(ctx context.Context, deviceID string) (MergedInfo, error) {
	info, err := s.Info(ctx, deviceID)
	if err != nil {
		return MergedInfo{}, err
	}
	overlay, err := s.overlay(ctx, deviceID)
	if err != nil {
		return MergedInfo{}, err
	}
	merged := MergedInfo{
		ID:                deviceID,
		Name:              devices.DisplayName(overlay, info.Name),
		TBName:            info.Name,
		Type:              info.Type,
		CustomerTitle:     info.CustomerTitle,
		DeviceProfileName: info.DeviceProfileName,
		CreatedTime:       info.CreatedTime,
		Active:            info.Active,
	}
	if overlay != nil {
		merged.Location = overlay.Location
	}
	return merged, nil
}

// Location returns the stored location, nil when none was saved.
func (s *Service) Location(ctx context.Context, deviceID string) (*string, error) {
	if _, err := s.Info(ctx, deviceID); err != nil {
		return nil, err
	}
	overlay, err := s.overlay(ctx, deviceID)
	if err != nil || overlay == nil {
		return nil, err
	}
	return overlay.Location, nil
}

// SaveLocation stores a user supplied location for the device.
func (s *Service) SaveLocation(ctx context.Context, deviceID, location string) (*devices.Overlay, error) {
	location, err := devices.NormalizeLocation(location)
	if err != nil {
		return nil, err
	}
	info, err := s.Info(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	name := info.Name
	if name == "" {
		name = devices.UnnamedDevice
	}
	return s.overlays.UpsertLocation(ctx, deviceID, name, info.CustomerRef(), location)
}

// Rename stores a display name, keeping the platform name as the original.
func (s *Service) Rename(ctx context.Context, deviceID, name string) (*devices.Overlay, error) {
	name, err := devices.NormalizeName(name)
	if err != nil {
		return nil, err
	}
	info, err := s.Info(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.overlays.Rename(ctx, deviceID, name, info.Name, info.CustomerRef())
}

// DisplayName resolves the name shown for a device. Overlay lookup failures
// fall back to the platform name.
func (s *Service) DisplayName(ctx context.Context, deviceID, platformName string) string {
	overlay, err := s.overlay(ctx, deviceID)
	if err != nil {
		s.logger.Warn("device overlay lookup failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	return devices.DisplayName(overlay, platformName)
}

func (s *Service) overlay(ctx context.Context, deviceID string) (*devices.Overlay, error) {
	overlay, err := s.overlays.Get(ctx, deviceID)
	if errors.Is(err, devices.ErrNotFound) {
		return nil, nil
	}
	return overlay, err
}

// ByName finds a device by exact name.
func (s *Service) ByName(ctx context.Context, name string) (tbadapter.DeviceInfo, error) {
	device, err := s.upstream.DeviceByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return tbadapter.DeviceInfo{}, err
	}
	if err := auth.EnsureCustomer(ctx, device.CustomerRef()); err != nil {
		return tbadapter.DeviceInfo{}, err
	}
	return device, nil
}

// ByIDs loads several devices. Non-admin callers only see their own.
func (s *Service) ByIDs(ctx context.Context, ids []string) ([]tbadapter.DeviceInfo, error) {
	list, err := s.upstream.DevicesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]tbadapter.DeviceInfo, 0, len(list))
	for _, device := range list {
		if auth.EnsureCustomer(ctx, device.CustomerRef()) == nil {
			out = append(out, device)
		}
	}
	return out, nil
}

// DeviceDashboards lists dashboards of the customer owning the device.
func (s *Service) DeviceDashboards(ctx context.Context, deviceID string) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	info, err := s.upstream.DeviceInfo(ctx, deviceID)
	if err != nil {
		return tbadapter.PageData[tbadapter.DashboardInfo]{}, err
	}
	customerID := info.CustomerRef()
	if err := auth.EnsureSameCustomer(ctx, customerID); err != nil {
		return tbadapter.PageData[tbadapter.DashboardInfo]{}, err
	}
	return s.upstream.CustomerDashboards(ctx, customerID, tbadapter.DashboardQuery{})
}

// MyDashboards lists the caller's dashboards; admins see the tenant.
func (s *Service) MyDashboards(ctx context.Context, q tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	if auth.IsAdmin(ctx) {
		return s.upstream.TenantDashboards(ctx, q)
	}
	customerID := auth.CustomerIDFromContext(ctx)
	if customerID == "" {
		return tbadapter.PageData[tbadapter.DashboardInfo]{}, ErrNoCustomer
	}
	return s.upstream.CustomerDashboards(ctx, customerID, q)
}

// MyDevices lists the caller's devices; admins see the tenant.
func (s *Service) MyDevices(ctx context.Context, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error) {
	if auth.IsAdmin(ctx) {
		return s.upstream.TenantDevices(ctx, q)
	}
	customerID := auth.CustomerIDFromContext(ctx)
	if customerID == "" {
		return tbadapter.PageData[tbadapter.DeviceInfo]{}, ErrNoCustomer
	}
	return s.upstream.CustomerDevices(ctx, customerID, q)
}

// CustomerDashboards lists dashboards of the caller's own customer.
func (s *Service) CustomerDashboards(ctx context.Context, customerID string, q tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	if err := auth.EnsureSameCustomer(ctx, customerID); err != nil {
		return tbadapter.PageData[tbadapter.DashboardInfo]{}, err
	}
	return s.upstream.CustomerDashboards(ctx, customerID, q)
}

// CustomerDevices lists device infos of the caller's own customer.
func (s *Service) CustomerDevices(ctx context.Context, customerID string, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error) {
	if err := auth.EnsureSameCustomer(ctx, customerID); err != nil {
		return tbadapter.PageData[tbadapter.DeviceInfo]{}, err
	}
	return s.upstream.CustomerDevices(ctx, customerID, q)
}

// TenantDashboards lists every dashboard of the tenant.
func (s *Service) TenantDashboards(ctx context.Context, q tbadapter.DashboardQuery) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	return s.upstream.TenantDashboards(ctx, q)
}

// TenantDevices lists every device of the tenant.
func (s *Service) TenantDevices(ctx context.Context, q tbadapter.DeviceQuery) (tbadapter.PageData[tbadapter.DeviceInfo], error) {
	return s.upstream.TenantDevices(ctx, q)
}

// UserDashboards lists dashboards visible to another user. An admin without
// a customer sees the tenant.
func (s *Service) UserDashboards(ctx context.Context, userID string) (tbadapter.PageData[tbadapter.DashboardInfo], error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return tbadapter.PageData[tbadapter.DashboardInfo]{}, err
	}
	if user.CustomerID == "" {
		if user.IsAdmin() {
			return s.upstream.TenantDashboards(ctx, tbadapter.DashboardQuery{})
		}
		return tbadapter.PageData[tbadapter.DashboardInfo]{}, ErrNoCustomer
	}
	return s.upstream.CustomerDashboards(ctx, user.CustomerID, tbadapter.DashboardQuery{})
}

// UserDevices lists devices visible to another user. An admin without a
// customer sees the tenant.
func (s *Service) UserDevices(ctx context.Context, userID string) (tbadapter.PageData[tbadapter.DeviceInfo], error) {
	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return tbadapter.PageData[tbadapter.DeviceInfo]{}, err
	}
	if user.CustomerID == "" {
		if user.IsAdmin() {
			return s.upstream.TenantDevices(ctx, tbadapter.DeviceQuery{})
		}
		return tbadapter.PageData[tbadapter.DeviceInfo]{}, ErrNoCustomer
	}
	return s.upstream.CustomerDevices(ctx, user.CustomerID, tbadapter.DeviceQuery{})
}

func (s *Service) lookupUser(ctx context.Context, userID string) (users.User, error) {
	if s.users == nil {
		return users.User{}, errors.New("devices: nil user directory")
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return users.User{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return user, nil
}
