package tbadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DeviceInfo fetches a single device with profile and customer details.
func (c *Client) DeviceInfo(ctx context.Context, deviceID string) (DeviceInfo, error) {
	var out DeviceInfo
	if deviceID == "" {
		return out, fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	err := c.get(ctx, "device_info", "/api/device/info/"+url.PathEscape(deviceID), nil, &out)
	return out, err
}

// DeviceInfoForCustomer fetches a device and fails with ErrAccessDenied when it
// is not assigned to customerID.
func (c *Client) DeviceInfoForCustomer(ctx context.Context, deviceID, customerID string) (DeviceInfo, error) {
	info, err := c.DeviceInfo(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DeviceInfo{}, ErrAccessDenied
		}
		return DeviceInfo{}, err
	}
	if !info.BelongsTo(customerID) {
		return DeviceInfo{}, ErrAccessDenied
	}
	return info, nil
}

// DeviceByName looks up a tenant device by its exact name.
func (c *Client) DeviceByName(ctx context.Context, name string) (DeviceInfo, error) {
	var out DeviceInfo
	if name == "" {
		return out, fmt.Errorf("%w: empty device name", ErrInvalidArgument)
	}
	err := c.get(ctx, "device_by_name", "/api/tenant/devices", url.Values{"deviceName": {name}}, &out)
	return out, err
}

// DevicesByIDs resolves several devices at once. Blank ids are dropped and an
// empty list returns without a request.
func (c *Client) DevicesByIDs(ctx context.Context, ids []string) ([]DeviceInfo, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return []DeviceInfo{}, nil
	}
	var out []DeviceInfo
	err := c.get(ctx, "devices_by_ids", "/api/devices", url.Values{"deviceIds": {strings.Join(cleaned, ",")}}, &out)
	return out, err
}

// TenantDevices lists every device visible to the service account.
func (c *Client) TenantDevices(ctx context.Context, q DeviceQuery) (PageData[DeviceInfo], error) {
	var out PageData[DeviceInfo]
	query, err := q.values()
	if err != nil {
		return out, err
	}
	err = c.get(ctx, "tenant_devices", "/api/tenant/deviceInfos", query, &out)
	return out, err
}

// CustomerDevices lists devices assigned to a customer.
func (c *Client) CustomerDevices(ctx context.Context, customerID string, q DeviceQuery) (PageData[DeviceInfo], error) {
	var out PageData[DeviceInfo]
	if customerID == "" {
		return out, fmt.Errorf("%w: empty customer id", ErrInvalidArgument)
	}
	query, err := q.values()
	if err != nil {
		return out, err
	}
	err = c.get(ctx, "customer_devices", "/api/customer/"+url.PathEscape(customerID)+"/deviceInfos", query, &out)
	return out, err
}

// TenantDashboards lists every tenant dashboard.
func (c *Client) TenantDashboards(ctx context.Context, q DashboardQuery) (PageData[DashboardInfo], error) {
	var out PageData[DashboardInfo]
	query, err := q.values()
	if err != nil {
		return out, err
	}
	err = c.get(ctx, "tenant_dashboards", "/api/tenant/dashboards", query, &out)
	return out, err
}

// CustomerDashboards lists dashboards assigned to a customer.
func (c *Client) CustomerDashboards(ctx context.Context, customerID string, q DashboardQuery) (PageData[DashboardInfo], error) {
	var out PageData[DashboardInfo]
	if customerID == "" {
		return out, fmt.Errorf("%w: empty customer id", ErrInvalidArgument)
	}
	query, err := q.values()
	if err != nil {
		return out, err
	}
	err = c.get(ctx, "customer_dashboards", "/api/customer/"+url.PathEscape(customerID)+"/dashboards", query, &out)
	return out, err
}

// Customer fetches a customer record.
func (c *Client) Customer(ctx context.Context, customerID string) (Customer, error) {
	var out Customer
	if customerID == "" {
		return out, fmt.Errorf("%w: empty customer id", ErrInvalidArgument)
	}
	err := c.get(ctx, "customer", "/api/customer/"+url.PathEscape(customerID), nil, &out)
	return out, err
}

// Customers lists tenant customers.
func (c *Client) Customers(ctx context.Context, q PageQuery) (PageData[Customer], error) {
	var out PageData[Customer]
	query, err := q.values()
	if err != nil {
		return out, err
	}
	err = c.get(ctx, "customers", "/api/customers", query, &out)
	return out, err
}

// DeviceProfiles lists device profiles.
func (c *Client) DeviceProfiles(ctx context.Context, q PageQuery) (PageData[DeviceProfileInfo], error) {
	var out PageData[DeviceProfileInfo]
	query, err := q.values()
	if err != nil {
		return out, err
	}
	err = c.get(ctx, "device_profiles", "/api/deviceProfileInfos", query, &out)
	return out, err
}

// CreateCustomer creates a customer and returns the stored record.
func (c *Client) CreateCustomer(ctx context.Context, customer Customer) (Customer, error) {
	var out Customer
	if strings.TrimSpace(customer.Title) == "" {
		return out, fmt.Errorf("%w: customer title is required", ErrInvalidArgument)
	}
	err := c.do(ctx, "create_customer", http.MethodPost, "/api/customer", nil, customer, &out)
	return out, err
}

// DeleteCustomer removes a customer.
func (c *Client) DeleteCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("%w: empty customer id", ErrInvalidArgument)
	}
	return c.do(ctx, "delete_customer", http.MethodDelete, "/api/customer/"+url.PathEscape(customerID), nil, nil, nil)
}

// CreateDevice creates a device and returns the stored record.
func (c *Client) CreateDevice(ctx context.Context, device NewDevice) (DeviceInfo, error) {
	var out DeviceInfo
	if strings.TrimSpace(device.Name) == "" {
		return out, fmt.Errorf("%w: device name is required", ErrInvalidArgument)
	}
	err := c.do(ctx, "create_device", http.MethodPost, "/api/device", nil, device, &out)
	return out, err
}

// DeleteDevice removes a device.
func (c *Client) DeleteDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	return c.do(ctx, "delete_device", http.MethodDelete, "/api/device/"+url.PathEscape(deviceID), nil, nil, nil)
}

// AssignDevice assigns a device to a customer.
func (c *Client) AssignDevice(ctx context.Context, customerID, deviceID string) (DeviceInfo, error) {
	var out DeviceInfo
	if customerID == "" || deviceID == "" {
		return out, fmt.Errorf("%w: customer id and device id are required", ErrInvalidArgument)
	}
	path := "/api/customer/" + url.PathEscape(customerID) + "/device/" + url.PathEscape(deviceID)
	err := c.do(ctx, "assign_device", http.MethodPost, path, nil, nil, &out)
	return out, err
}

// UnassignDevice returns a device to the tenant.
func (c *Client) UnassignDevice(ctx context.Context, deviceID string) (DeviceInfo, error) {
	var out DeviceInfo
	if deviceID == "" {
		return out, fmt.Errorf("%w: empty device id", ErrInvalidArgument)
	}
	err := c.do(ctx, "unassign_device", http.MethodDelete, "/api/customer/device/"+url.PathEscape(deviceID), nil, nil, &out)
	return out, err
}
