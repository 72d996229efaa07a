package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Size is a byte count that decodes from plain integers or IEC strings.
type Size int64

// Int64 returns s as a plain byte count.
func (s Size) Int64() int64 { return int64(s) }

// ErrEmptySize is returned by ParseSize for blank input.
var ErrEmptySize = errors.New("empty size string")

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	{"B", 1},
}

// ParseSize converts a human-friendly size string into a byte count.
// Accepts plain integers (bytes) or KiB/MiB/GiB, K/M/G and B suffixes,
// case-insensitive: "131072", "128KiB", "1MiB", "2G", "512b".
func ParseSize(s string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "" {
		return 0, ErrEmptySize
	}
	mult := int64(1)
	for _, u := range sizeUnits {
		if num, ok := strings.CutSuffix(upper, u.suffix); ok {
			upper, mult = strings.TrimSpace(num), u.mult
			break
		}
	}
	if upper == "" {
		return 0, fmt.Errorf("parse size %q: missing number", s)
	}
	n, err := strconv.ParseInt(upper, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parse size %q: negative not allowed", s)
	}
	if n > 0 && mult > 1 && n > (1<<63-1)/mult {
		return 0, fmt.Errorf("parse size %q: overflows int64", s)
	}
	return n * mult, nil
}

// StringToSize is a DecodeHookFunc that converts strings to Size using ParseSize.
func StringToSize() func(f, t reflect.Type, data any) (any, error) {
	sizeType := reflect.TypeOf(Size(0))
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != sizeType {
			return data, nil
		}
		n, err := ParseSize(data.(string))
		if err != nil {
			return nil, err
		}
		return Size(n), nil
	}
}
