package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zhouzirui/chat-widget/backend/internal/model/identity"
)

// FallbackReply is shown when the webhook answers without a usable text
// field.
const FallbackReply = "Sorry, I couldn't understand that."

// ReplyFields lists the response fields checked for the reply text, in
// priority order.
var ReplyFields = []string{"output", "message", "response"}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
	Route   string `json:"route"`
}

// NewPayload builds the outbound body for one user message.
func NewPayload(id identity.Identity, message, route string) Payload {
	return Payload{
		ChatID:  id.CompositeID(),
		Message: message,
		Route:   route,
	}
}

// ExtractReply picks the reply text out of a decoded webhook body. Objects
// are searched field by field; arrays use their first element. Any other
// shape yields FallbackReply.
func ExtractReply(body any) string {
	switch v := body.(type) {
	case map[string]any:
		for _, field := range ReplyFields {
			if text, ok := truthyText(v[field]); ok {
				return text
			}
		}
	case []any:
		if len(v) > 0 {
			return ExtractReply(v[0])
		}
	}
	return FallbackReply
}

// DecodeReply parses raw webhook bytes and extracts the reply text.
func DecodeReply(raw []byte) (string, error) {
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	return ExtractReply(body), nil
}

// truthyText skips empty strings, zero, false and null. Nested values are
// passed on as their JSON encoding.
func truthyText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		if !t {
			return "", false
		}
		return "true", true
	case float64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case map[string]any, []any:
		encoded, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	default:
		return fmt.Sprint(t), true
	}
}
