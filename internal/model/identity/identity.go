package identity

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// UnknownLocation is stored when no location could be resolved.
const UnknownLocation = "Unknown"

// Storage keys shared with the original browser widget.
const (
	LegacyIDKey = "chatId"
	DetailsKey  = "chatDeets"
)

// compositeSeparator joins the identity fields into the payload chat id.
const compositeSeparator = "|"

// DeviceClass is the coarse platform bucket derived from the user agent.
type DeviceClass string

const (
	DeviceIOS     DeviceClass = "ios"
	DeviceAndroid DeviceClass = "android"
	DeviceOther   DeviceClass = "other"
)

// Identity is the anonymous, device-persisted descriptor sent with every
// message.
type Identity struct {
	LocalID   string      `json:"id"`
	UserAgent string      `json:"ua"`
	Device    DeviceClass `json:"dv"`
	Location  string      `json:"loc"`
}

// New synthesizes a fresh identity for the given user agent.
func New(userAgent string) Identity {
	return Identity{
		LocalID:   NewLocalID(),
		UserAgent: userAgent,
		Device:    ClassifyDevice(userAgent),
		Location:  UnknownLocation,
	}
}

// NewLocalID returns "chat_" followed by nine base-36 characters.
func NewLocalID() string {
	id := uuid.New()
	digits := new(big.Int).SetBytes(id[:]).Text(36)
	for len(digits) < 9 {
		digits = "0" + digits
	}
	return "chat_" + digits[len(digits)-9:]
}

// ClassifyDevice matches the user agent against iOS and Android signatures.
func ClassifyDevice(userAgent string) DeviceClass {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return DeviceIOS
	case strings.Contains(ua, "android"):
		return DeviceAndroid
	default:
		return DeviceOther
	}
}

// CompositeID joins id, user agent, device class and location with "|".
func (i Identity) CompositeID() string {
	return strings.Join([]string{i.LocalID, i.UserAgent, string(i.Device), i.Location}, compositeSeparator)
}

// Valid reports whether a decoded identity carries the fields the widget
// relies on.
func (i Identity) Valid() bool {
	return i.LocalID != "" && i.Device != ""
}

// FormatLocation renders a "City, Country" pair, falling back to
// UnknownLocation when either part is missing.
func FormatLocation(city, country string) string {
	city = strings.TrimSpace(city)
	country = strings.TrimSpace(country)
	if city == "" || country == "" {
		return UnknownLocation
	}
	return city + ", " + country
}
