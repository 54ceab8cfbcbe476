package capi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"pixel-relay/internal/httpx"
	"pixel-relay/internal/model"
)

// Options are the deployment-level knobs for payload construction.
type Options struct {
	// FrontendURL is the configured storefront base used when the request
	// carries neither an absolute URL nor usable origin/referer headers.
	FrontendURL string
	// DefaultCurrency applies to Purchase events that name no currency.
	DefaultCurrency string
	// Scheme is used with the host header in the last event_source_url
	// fallback ("https" in production).
	Scheme string
}

// Content is one item inside custom_data.contents.
type Content struct {
	ID        string  `json:"id"`
	Quantity  int     `json:"quantity"`
	ItemPrice float64 `json:"item_price"`
}

// CustomData is the per-event-type commerce block of a conversion event.
type CustomData struct {
	ContentName string    `json:"content_name,omitempty"`
	ContentIDs  []string  `json:"content_ids,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Contents    []Content `json:"contents,omitempty"`
	Value       *float64  `json:"value,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	NumItems    int       `json:"num_items,omitempty"`
}

// UserData carries the matching identifiers. Email and phone are SHA-256
// hashed before they get here; raw PII never enters this struct.
type UserData struct {
	ClientIPAddress string `json:"client_ip_address"`
	ClientUserAgent string `json:"client_user_agent"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
	Em              string `json:"em,omitempty"`
	Ph              string `json:"ph,omitempty"`
}

// ConversionEvent is one entry of the Conversions API data array.
type ConversionEvent struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id,omitempty"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	ActionSource   string     `json:"action_source"`
	UserData       UserData   `json:"user_data"`
	CustomData     CustomData `json:"custom_data"`
}

type envelope struct {
	Data        []ConversionEvent `json:"data"`
	AccessToken string            `json:"access_token"`
}

// BuildPayload projects a normalized event plus its request context onto the
// Conversions API schema. Pure; no I/O.
func BuildPayload(evt model.Event, req httpx.Request, opts Options) ConversionEvent {
	eventName := evt.Type
	if eventName == "" {
		eventName = model.EventPageView
	}

	eventTime := time.Now().Unix()
	if evt.TS != 0 {
		eventTime = evt.TS / 1000
	}

	userData := UserData{
		ClientIPAddress: evt.IPAddress,
		ClientUserAgent: evt.UserAgent,
		FBP:             cookieValue(req, "_fbp"),
		FBC:             cookieValue(req, "_fbc"),
		Em:              HashPII(evt.Email),
		Ph:              HashPII(evt.Phone),
	}

	return ConversionEvent{
		EventName:      eventName,
		EventTime:      eventTime,
		EventID:        evt.EventID,
		EventSourceURL: eventSourceURL(evt, req, opts),
		ActionSource:   "website",
		UserData:       userData,
		CustomData:     buildCustomData(eventName, evt, opts),
	}
}

func buildCustomData(eventName string, evt model.Event, opts Options) CustomData {
	switch {
	case eventName == model.EventAddToCart && evt.Product != nil:
		p := evt.Product
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		price := p.Price
		return CustomData{
			ContentName: p.Name,
			ContentIDs:  []string{p.ID.String()},
			ContentType: "product",
			Contents:    []Content{{ID: p.ID.String(), Quantity: 1, ItemPrice: p.Price}},
			Value:       &price,
			Currency:    currency,
		}

	case eventName == model.EventPurchase && (len(evt.Products) > 0 || evt.Product != nil):
		currency := evt.Currency
		if currency == "" && evt.Product != nil {
			currency = evt.Product.Currency
		}
		if currency == "" && len(evt.Products) > 0 {
			currency = evt.Products[0].Currency
		}
		if currency == "" {
			currency = opts.DefaultCurrency
		}

		var (
			contents   []Content
			contentIDs []string
			numItems   int
			value      float64
		)
		if len(evt.Products) > 0 {
			for _, p := range evt.Products {
				qty := p.Quantity
				if qty <= 0 {
					qty = 1
				}
				contents = append(contents, Content{ID: p.ID.String(), Quantity: qty, ItemPrice: p.Price})
				contentIDs = append(contentIDs, p.ID.String())
				numItems += qty
				value += p.Price * float64(qty)
			}
		} else {
			p := evt.Product
			contents = []Content{{ID: p.ID.String(), Quantity: 1, ItemPrice: p.Price}}
			contentIDs = []string{p.ID.String()}
			numItems = 1
			value = p.Price
		}
		if evt.Value != nil {
			value = *evt.Value
		}
		return CustomData{
			ContentName: "Purchase",
			ContentIDs:  contentIDs,
			ContentType: "product",
			Contents:    contents,
			Value:       &value,
			Currency:    currency,
			NumItems:    numItems,
		}

	default:
		name := evt.Path
		if name == "" {
			name = "Unknown"
		}
		return CustomData{ContentName: name}
	}
}

// eventSourceURL picks the page URL to report, most reliable source first:
// explicit absolute URL, origin header, referer origin, configured frontend
// base, and finally scheme://host.
func eventSourceURL(evt model.Event, req httpx.Request, opts Options) string {
	if strings.HasPrefix(evt.FullURL, "http://") || strings.HasPrefix(evt.FullURL, "https://") {
		return evt.FullURL
	}

	if origin := headerValue(req, "origin"); origin != "" {
		if evt.Path == "" {
			return origin
		}
		return origin + leadingSlash(evt.Path)
	}

	referer := headerValue(req, "referer")
	if referer == "" {
		referer = headerValue(req, "referrer")
	}
	if referer != "" {
		if evt.Path == "" {
			return referer
		}
		if u, err := url.Parse(referer); err == nil && u.Scheme != "" && u.Host != "" {
			return u.Scheme + "://" + u.Host + leadingSlash(evt.Path)
		}
		return referer
	}

	if opts.FrontendURL != "" {
		base := strings.TrimSuffix(opts.FrontendURL, "/")
		if evt.Path == "" {
			return base
		}
		return base + leadingSlash(evt.Path)
	}

	host := headerValue(req, "host")
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if evt.Path != "" {
		if strings.HasPrefix(evt.Path, "http://") || strings.HasPrefix(evt.Path, "https://") {
			return evt.Path
		}
		if host != "" {
			return scheme + "://" + host + leadingSlash(evt.Path)
		}
		return evt.Path
	}
	if host != "" {
		return scheme + "://" + host
	}
	return ""
}

func leadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func headerValue(req httpx.Request, name string) string {
	if req == nil {
		return ""
	}
	return req.Header(name)
}

func cookieValue(req httpx.Request, name string) string {
	if req == nil {
		return ""
	}
	return req.Cookie(name)
}

// HashPII returns the lowercase hex SHA-256 of a trimmed, lowercased value,
// or "" for empty input. Identifiers always hash before leaving the process.
func HashPII(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(sum[:])
}
