package terminal

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxInputMessageSize is the largest input message accepted from a client.
	MaxInputMessageSize = 64 * 1024

	// MaxTermCols is the maximum allowed terminal width.
	MaxTermCols = 500
	// MaxTermRows is the maximum allowed terminal height.
	MaxTermRows = 200

	DefaultCols = 80
	DefaultRows = 24

	// MessageRateLimit is the maximum number of input messages per second.
	MessageRateLimit = 100
	// MessageRateBurst is the burst allowance for the rate limiter.
	MessageRateBurst = 200
)

// ClampSize replaces zero dimensions with the defaults and caps the rest.
func ClampSize(cols, rows int) (uint16, uint16) {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	if cols > MaxTermCols {
		cols = MaxTermCols
	}
	if rows > MaxTermRows {
		rows = MaxTermRows
	}
	return uint16(cols), uint16(rows)
}

// ValidSize reports whether cols x rows is an acceptable explicit resize.
func ValidSize(cols, rows int) bool {
	return cols > 0 && rows > 0 && cols <= MaxTermCols && rows <= MaxTermRows
}

// NewRateLimiter returns the token bucket applied to client input messages.
func NewRateLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second/MessageRateLimit), MessageRateBurst)
}
