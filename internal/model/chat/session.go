package chat

import "time"

// Session captures one widget view's anonymous conversation.
type Session struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Route     string    `json:"route"`
	CreatedAt time.Time `json:"createdAt"`
}
