package tbadapter

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// NullCustomerID is the platform's placeholder for "no customer".
const NullCustomerID = "13814000-1dd2-11b2-8080-808080808080"

// Listing defaults applied when a query leaves them unset.
const (
	DefaultPage     = 0
	DefaultPageSize = 10
)

// EntityID is the platform's typed identifier.
type EntityID struct {
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
}

// PageData is a paginated listing.
type PageData[T any] struct {
	Data          []T   `json:"data"`
	TotalPages    int   `json:"totalPages"`
	TotalElements int64 `json:"totalElements"`
	HasNext       bool  `json:"hasNext"`
}

// DeviceInfo is the device record returned by info and listing endpoints.
type DeviceInfo struct {
	ID                EntityID        `json:"id"`
	CreatedTime       int64           `json:"createdTime"`
	TenantID          *EntityID       `json:"tenantId,omitempty"`
	CustomerID        *EntityID       `json:"customerId,omitempty"`
	Name              string          `json:"name"`
	Type              string          `json:"type"`
	Label             string          `json:"label,omitempty"`
	DeviceProfileID   *EntityID       `json:"deviceProfileId,omitempty"`
	DeviceProfileName string          `json:"deviceProfileName,omitempty"`
	CustomerTitle     string          `json:"customerTitle,omitempty"`
	CustomerIsPublic  bool            `json:"customerIsPublic,omitempty"`
	Active            *bool           `json:"active,omitempty"`
	AdditionalInfo    json.RawMessage `json:"additionalInfo,omitempty"`
}

// CustomerRef returns the owning customer id, or "" when unassigned.
func (d DeviceInfo) CustomerRef() string {
	if d.CustomerID == nil || d.CustomerID.ID == NullCustomerID {
		return ""
	}
	return d.CustomerID.ID
}

// BelongsTo reports whether the device is assigned to customerID.
func (d DeviceInfo) BelongsTo(customerID string) bool {
	return customerID != "" && d.CustomerRef() == customerID
}

// ShortCustomerInfo is embedded in dashboard assignments.
type ShortCustomerInfo struct {
	CustomerID EntityID `json:"customerId"`
	Title      string   `json:"title"`
	Public     bool     `json:"public"`
}

// DashboardInfo is a dashboard listing entry.
type DashboardInfo struct {
	ID                EntityID            `json:"id"`
	CreatedTime       int64               `json:"createdTime"`
	Title             string              `json:"title"`
	Image             *string             `json:"image,omitempty"`
	AssignedCustomers []ShortCustomerInfo `json:"assignedCustomers,omitempty"`
	MobileHide        bool                `json:"mobileHide,omitempty"`
	MobileOrder       *int                `json:"mobileOrder,omitempty"`
}

// Customer is a platform customer (tenant of end users).
type Customer struct {
	ID             *EntityID       `json:"id,omitempty"`
	CreatedTime    int64           `json:"createdTime,omitempty"`
	Title          string          `json:"title"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Country        string          `json:"country,omitempty"`
	City           string          `json:"city,omitempty"`
	Address        string          `json:"address,omitempty"`
	AdditionalInfo json.RawMessage `json:"additionalInfo,omitempty"`
}

// DeviceProfileInfo is a device profile listing entry.
type DeviceProfileInfo struct {
	ID            EntityID `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type,omitempty"`
	TransportType string   `json:"transportType,omitempty"`
	Image         *string  `json:"image,omitempty"`
}

// NewDevice is the body for device creation.
type NewDevice struct {
	Name            string    `json:"name"`
	Type            string    `json:"type,omitempty"`
	Label           string    `json:"label,omitempty"`
	DeviceProfileID *EntityID `json:"deviceProfileId,omitempty"`
}

// PageQuery carries pagination and optional sort/search parameters.
// A non-positive PageSize falls back to 10.
type PageQuery struct {
	Page         int
	PageSize     int
	TextSearch   string
	SortProperty string
	SortOrder    string
}

func (q PageQuery) values() (url.Values, error) {
	page := q.Page
	if page < 0 {
		page = DefaultPage
	}
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("pageSize", strconv.Itoa(size))
	if q.TextSearch != "" {
		v.Set("textSearch", q.TextSearch)
	}
	if q.SortProperty != "" {
		v.Set("sortProperty", q.SortProperty)
	}
	if q.SortOrder != "" {
		order := strings.ToUpper(q.SortOrder)
		if order != "ASC" && order != "DESC" {
			return nil, ErrInvalidSortOrder
		}
		v.Set("sortOrder", order)
	}
	return v, nil
}

// DeviceQuery filters device listings.
type DeviceQuery struct {
	PageQuery
	Type            string
	DeviceProfileID string
	Active          *bool
}

func (q DeviceQuery) values() (url.Values, error) {
	v, err := q.PageQuery.values()
	if err != nil {
		return nil, err
	}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.DeviceProfileID != "" {
		v.Set("deviceProfileId", q.DeviceProfileID)
	}
	if q.Active != nil {
		v.Set("active", strconv.FormatBool(*q.Active))
	}
	return v, nil
}

// DashboardQuery filters dashboard listings.
type DashboardQuery struct {
	PageQuery
	Mobile *bool
}

func (q DashboardQuery) values() (url.Values, error) {
	v, err := q.PageQuery.values()
	if err != nil {
		return nil, err
	}
	if q.Mobile != nil {
		v.Set("mobile", strconv.FormatBool(*q.Mobile))
	}
	return v, nil
}
