package stream

import (
	"context"
	"errors"
	"net"
	"strings"

	"tickerflow/reconnect"
)

// Classify inspects a transport or venue error and determines which failure
// kind it signals. Detection is keyword based as venues use different wording
// for the same condition; anything unrecognised maps to Unknown so the
// default bounded-retry policy applies.
func Classify(err error) reconnect.FailureKind {
	if err == nil {
		return reconnect.Unknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return reconnect.NetworkTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return reconnect.NetworkTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		return reconnect.RateLimit
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return reconnect.AuthFailure
	case strings.Contains(msg, "maintenance") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "503"):
		return reconnect.ServiceMaintenance
	case strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502"):
		return reconnect.ServerError
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe"):
		return reconnect.NetworkTimeout
	default:
		return reconnect.Unknown
	}
}
