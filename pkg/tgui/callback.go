package tgui

import (
	"fmt"
	"strings"
)

// Callback data format: "scope:action:payload". Telegram limits callback
// data to 64 bytes, so payloads stay short (numeric ids).

// Data formats callback data. Payload may be empty.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// ParseData splits callback data into its parts. Payload may be empty.
func ParseData(data string) (scope, action, payload string, err error) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("malformed callback data %q", data)
	}
	scope, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return scope, action, payload, nil
}
