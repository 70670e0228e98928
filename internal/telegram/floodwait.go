package telegram

import (
	"fmt"
	"strings"
)

// FloodWaitSeconds checks if error is a FLOOD_WAIT error and returns wait seconds.
// Returns 0 for nil or non-flood errors.
func FloodWaitSeconds(err error) int {
	if err == nil {
		return 0
	}

	// gotgproto/gotd errors are usually wrapped
	// we check for the error string as it's the most reliable way
	// without deep coupling to gotd/tg definition of FloodWait
	str := err.Error()
	if !strings.Contains(str, "FLOOD_WAIT_") {
		return 0
	}

	// format is usually FLOOD_WAIT_X where X is seconds
	parts := strings.Split(str, "FLOOD_WAIT_")
	if len(parts) < 2 {
		return 0
	}

	// sometimes it has " (caused by...)" or other suffix, simple scan
	var seconds int
	_, _ = fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &seconds)
	return seconds
}

// IsFloodWait reports whether err carries a FLOOD_WAIT signal.
func IsFloodWait(err error) bool {
	return FloodWaitSeconds(err) > 0
}

// permanentMarkers are rpc error codes that no amount of retrying will fix.
var permanentMarkers = []string{
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"CHAT_FORBIDDEN",
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"FILE_ID_INVALID",
	"LOCATION_INVALID",
	"MSG_ID_INVALID",
	"AUTH_KEY_UNREGISTERED",
}

// IsPermanent reports whether err is a permission/not-found class error
// that should fail immediately instead of being retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	str := err.Error()
	for _, marker := range permanentMarkers {
		if strings.Contains(str, marker) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err looks like a network or deadline timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	str := strings.ToLower(err.Error())
	return strings.Contains(str, "timeout") ||
		strings.Contains(str, "deadline exceeded") ||
		strings.Contains(str, "connection reset")
}
