package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// WireTimeLayout is the datetime format of display and wire values (UTC, no offset)
const WireTimeLayout = "2006-01-02T15:04:05"

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	WireTimeLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	// ISO-8601 basic format
	"20060102T150405Z0700",
	"20060102T150405",
	"20060102T1504",
	"20060102",
}

// ParseTime parses an ISO-8601 value; values without an offset are UTC
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an ISO-8601 time", types.ErrValidationFailed, s)
}

// FormatMillis formats epoch milliseconds in the wire layout
func FormatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(WireTimeLayout)
}

// toMillis reads a datetime. Strings are always ISO-8601; only typed
// numbers (stored epoch milliseconds) are taken as-is.
func toMillis(v any) (int64, error) {
	if s, ok := v.(string); ok {
		t, err := ParseTime(s)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	}
	if ms, ok := schema.Millis(v); ok {
		return ms, nil
	}
	return 0, fmt.Errorf("%w: unsupported time value %v", types.ErrValidationFailed, v)
}

func convertDatetime(_ *schema.Property, v any, purpose Purpose) (any, error) {
	ms, err := toMillis(v)
	if err != nil {
		return nil, err
	}
	switch purpose {
	case ToStorage, ToUpdateStorage:
		return ms, nil
	default:
		return FormatMillis(ms), nil
	}
}

func convertDuration(p *schema.Property, v any, purpose Purpose) (any, error) {
	unit, ok := schema.UnitMillis(p.SourceFormat)
	if !ok {
		return nil, fmt.Errorf("%w: unknown duration unit %q", types.ErrValidationFailed, p.SourceFormat)
	}

	switch purpose {
	case ToStorage, ToUpdateStorage:
		return durationToMillis(v, unit)
	}

	ms, ok := schema.Millis(v)
	if !ok {
		return nil, fmt.Errorf("%w: stored duration %v is not numeric", types.ErrValidationFailed, v)
	}
	if purpose == ToWire {
		return int64(math.Ceil(float64(ms) / float64(unit))), nil
	}
	return FormatClock(ms), nil
}

// durationToMillis accepts a count of source units or an HH:mm:ss clock value
func durationToMillis(v any, unit int64) (int64, error) {
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if strings.Contains(s, ":") {
			return ParseClock(s)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a duration", types.ErrValidationFailed, s)
		}
		return int64(math.Round(f * float64(unit))), nil
	case float64:
		return int64(math.Round(n * float64(unit))), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a duration", types.ErrValidationFailed, n)
		}
		return int64(math.Round(f * float64(unit))), nil
	}
	if i, ok := schema.Millis(v); ok {
		return i * unit, nil
	}
	return 0, fmt.Errorf("%w: unsupported duration value %v", types.ErrValidationFailed, v)
}

// FormatClock formats a duration in milliseconds as HH:mm:ss. Hours do not wrap at 24.
func FormatClock(ms int64) string {
	neg := ms < 0
	if neg {
		ms = -ms
	}
	secs := ms / 1000
	out := fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
	if neg {
		return "-" + out
	}
	return out
}

// ParseClock parses HH:mm:ss or HH:mm into milliseconds
func ParseClock(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q is not HH:mm:ss", types.ErrValidationFailed, s)
	}
	var total int64
	for i, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 || (i > 0 && n > 59) {
			return 0, fmt.Errorf("%w: %q is not HH:mm:ss", types.ErrValidationFailed, s)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total * 1000, nil
}

func convertBoolean(_ *schema.Property, v any, _ Purpose) (any, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case float64:
		switch n {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
		return v, nil
	case string:
		switch strings.TrimSpace(n) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return v, nil
	}
	if i, ok := schema.Millis(v); ok {
		switch i {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return v, nil
}
