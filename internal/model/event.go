package model

import "encoding/json"

// Device types produced by util.DetectDeviceType.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// Well-known event types. The taxonomy is an open string set; anything else
// falls through to the PageView payload shape on dispatch.
const (
	EventPageView  = "PageView"
	EventAddToCart = "AddToCart"
	EventPurchase  = "Purchase"
)

// IncomingEvent is the JSON body accepted by POST /api/event. Every field is
// optional; missing values are defaulted during normalization.
type IncomingEvent struct {
	Event    string    `json:"event"`
	Path     string    `json:"path"`
	URL      string    `json:"url"`
	Referrer string    `json:"referrer"`
	UA       string    `json:"ua"`
	TS       int64     `json:"ts"` // milliseconds epoch
	Product  *Product  `json:"product"`
	Products []Product `json:"products"`
	Value    *float64  `json:"value"`
	Currency string    `json:"currency"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	EventID  string    `json:"event_id"`
}

// Event is the normalized record flowing through the pipeline. Email and
// Phone are carried for dispatch-time hashing only and are never persisted.
type Event struct {
	Type       string
	Host       string
	Path       string
	FullURL    string
	Referrer   string
	UserAgent  string
	IPAddress  string
	DeviceType string
	TS         int64 // milliseconds epoch
	Product    *Product
	Products   []Product
	Value      *float64
	Currency   string
	Email      string
	Phone      string
	EventID    string
}

// Product is a single item reference attached to cart/purchase events.
type Product struct {
	ID       ProductID `json:"id"`
	Name     string    `json:"name"`
	Price    float64   `json:"price"`
	Quantity int       `json:"quantity"`
	Currency string    `json:"currency"`
}

// ProductID accepts either a JSON string or a JSON number; clients send both.
type ProductID string

func (id *ProductID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ProductID(n.String())
	return nil
}

func (id ProductID) String() string { return string(id) }

// ProductJSON serializes the event's product payload for the event log:
// the single product wins over the array when both are present.
func (e Event) ProductJSON() ([]byte, error) {
	if e.Product != nil {
		return json.Marshal(e.Product)
	}
	if len(e.Products) > 0 {
		return json.Marshal(e.Products)
	}
	return nil, nil
}

// Geolocation holds the coarse location resolved for a public IP. All fields
// are nullable; an unresolved lookup is the zero value.
type Geolocation struct {
	Country   *string
	Region    *string
	City      *string
	District  *string
	Latitude  *float64
	Longitude *float64
}

// IsZero reports whether no field was resolved.
func (g Geolocation) IsZero() bool {
	return g.Country == nil && g.Region == nil && g.City == nil &&
		g.District == nil && g.Latitude == nil && g.Longitude == nil
}
