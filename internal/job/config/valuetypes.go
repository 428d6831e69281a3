// Package config implements the comment-preserving, schema-driven config
// file format: a flat `key = value` syntax with
// `[section id]` blocks, typed values (integers with unit suffixes,
// doubles, named booleans, quoted strings, enums, passwords, PEM key
// material, append-only lists), and atomic rw------- writes.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coldroot-labs/barc/internal/barcerr"
	"github.com/coldroot-labs/barc/internal/wire"
)

// Unit is one entry in an integer/double field's unit table, e.g. K=1024.
type Unit struct {
	Suffix string
	Factor float64
}

// StandardByteUnits are the K/M/G/T=1024^n units used by size fields
// (PAR2 block sizes, bandwidth limits), matching the original's binary
// convention rather than decimal SI.
var StandardByteUnits = []Unit{
	{"K", 1024},
	{"M", 1024 * 1024},
	{"G", 1024 * 1024 * 1024},
	{"T", 1024 * 1024 * 1024 * 1024},
}

// ParseIntWithUnits parses s as an integer, optionally suffixed by one of
// units (case-insensitive). An empty units table requires a bare integer.
func ParseIntWithUnits(s string, units []Unit) (int64, error) {
	s = strings.TrimSpace(s)
	for _, u := range units {
		if strings.HasSuffix(strings.ToUpper(s), strings.ToUpper(u.Suffix)) {
			numPart := strings.TrimSuffix(s, s[len(s)-len(u.Suffix):])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, barcerr.Wrap(barcerr.CodeParse, err, "invalid integer %q", s)
			}
			return int64(n * u.Factor), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, barcerr.Wrap(barcerr.CodeParse, err, "invalid integer %q", s)
	}
	return n, nil
}

// FormatIntWithUnits renders n using the largest unit that divides it
// evenly, for human-readable round-tripping, or a bare integer if none
// divides evenly.
func FormatIntWithUnits(n int64, units []Unit) string {
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		if n != 0 && int64(float64(n)/u.Factor)*int64(u.Factor) == n {
			return fmt.Sprintf("%d%s", int64(float64(n)/u.Factor), u.Suffix)
		}
	}
	return strconv.FormatInt(n, 10)
}

// BoolNames is a named true/false value set for a boolean field
// (e.g. yes/no vs 1/0).
type BoolNames struct {
	True  []string
	False []string
}

// DefaultBoolNames is the set accepted when a field doesn't specify its
// own, matching wire.Args.GetBool's vocabulary for consistency.
var DefaultBoolNames = BoolNames{
	True:  []string{"1", "true", "yes", "on"},
	False: []string{"0", "false", "no", "off"},
}

// ParseBool parses s against names, defaulting to DefaultBoolNames if
// names is the zero value.
func ParseBool(s string, names BoolNames) (bool, error) {
	if len(names.True) == 0 && len(names.False) == 0 {
		names = DefaultBoolNames
	}
	l := strings.ToLower(strings.TrimSpace(s))
	for _, v := range names.True {
		if l == v {
			return true, nil
		}
	}
	for _, v := range names.False {
		if l == v {
			return false, nil
		}
	}
	return false, barcerr.New(barcerr.CodeUnknownValue, "invalid boolean %q", s)
}

// FormatBool renders b using the first name in the matching list.
func FormatBool(b bool, names BoolNames) string {
	if len(names.True) == 0 && len(names.False) == 0 {
		names = DefaultBoolNames
	}
	if b {
		return names.True[0]
	}
	return names.False[0]
}

// ParseEnum validates s against values (case-sensitive, matching the
// original's lowercase token convention) and returns it unchanged.
func ParseEnum(s string, values []string) (string, error) {
	for _, v := range values {
		if v == s {
			return s, nil
		}
	}
	return "", barcerr.New(barcerr.CodeUnknownValue, "invalid value %q, expected one of %v", s, values)
}

// ParseQuotedString unquotes s if it is a wire.QuoteString-quoted value,
// or returns it verbatim otherwise — config string fields accept both
// bare and quoted forms.
func ParseQuotedString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' {
		args, err := wire.ParseArgs("v=" + s)
		if err != nil {
			return "", barcerr.Wrap(barcerr.CodeParse, err, "invalid quoted string %q", s)
		}
		return args.GetString("v", ""), nil
	}
	return s, nil
}

// FormatQuotedString quotes s if it needs it for safe round-tripping.
func FormatQuotedString(s string) string {
	if wire.NeedsQuoting(s) {
		return wire.QuoteString(s)
	}
	return s
}

// SentinelAll and SentinelForever are the escape values of fields that
// otherwise hold a normal integer (maxKeep, maxAge); ParseIntOrSentinel
// parses them.
const (
	SentinelAll     = "all"
	SentinelForever = "forever"
)

// ParseIntOrSentinel parses s as an integer unless it equals sentinel
// (case-insensitive), in which case isSentinel=true and n is meaningless.
func ParseIntOrSentinel(s, sentinel string) (n int, isSentinel bool, err error) {
	if strings.EqualFold(strings.TrimSpace(s), sentinel) {
		return 0, true, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, barcerr.Wrap(barcerr.CodeParse, err, "invalid integer or %q: %q", sentinel, s)
	}
	return v, false, nil
}
