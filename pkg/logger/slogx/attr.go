package slogx

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ErrorKey           = "error"
	ErrorVerboseKey    = "error_verbose"
	ErrorStackTraceKey = "error_stacktrace"
)

func Any(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Error returns an attr under ErrorKey. A nil error yields an empty attr, which handlers drop.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any(ErrorKey, err)
}

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Decimal logs an amount as its exact string form so SOK values never pass through float64.
func Decimal(key string, value decimal.Decimal) slog.Attr {
	return slog.String(key, value.String())
}

func Int(key string, value int) slog.Attr {
	return slog.Int64(key, int64(value))
}

func Int64(key string, value int64) slog.Attr {
	return slog.Int64(key, value)
}

func Duration(key string, v time.Duration) slog.Attr {
	return slog.Duration(key, v)
}
