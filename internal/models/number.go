package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Number is a numeric reading attribute kept as the literal it was written with,
// so integers read back as integers and floats keep their exact digits.
// A Number decoded from a non-numeric JSON value keeps that value verbatim and
// fails IsNumeric.
type Number string

// Int returns the Number for an integer value
func Int(v int64) Number {
	return Number(strconv.FormatInt(v, 10))
}

// Float returns the Number for a float value. Whole floats keep a ".0" suffix
// so they stay distinguishable from integers.
func Float(v float64) Number {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return Number(s)
}

// IsNumeric reports whether n holds a finite JSON number literal
func (n Number) IsNumeric() bool {
	if n == "" {
		return false
	}
	c := n[0]
	if c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid([]byte(n))
}

// IsInteger reports whether n is numeric and written without fraction or exponent
func (n Number) IsInteger() bool {
	return n.IsNumeric() && !strings.ContainsAny(string(n), ".eE")
}

// Float64 returns the value of n as a float64
func (n Number) Float64() (float64, error) {
	if !n.IsNumeric() {
		return 0, fmt.Errorf("%q is not a number", string(n))
	}
	return strconv.ParseFloat(string(n), 64)
}

// Int64 returns the value of n as an int64
func (n Number) Int64() (int64, error) {
	if !n.IsInteger() {
		return 0, fmt.Errorf("%q is not an integer", string(n))
	}
	return strconv.ParseInt(string(n), 10, 64)
}

func (n Number) String() string {
	return string(n)
}

// MarshalJSON writes numeric values as JSON numbers and anything else as a string
func (n Number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("null"), nil
	}
	if n.IsNumeric() {
		return []byte(n), nil
	}
	return json.Marshal(string(n))
}

// UnmarshalJSON accepts numbers, numeric strings and, for later validation,
// any other JSON value
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(strings.TrimSpace(s))
	default:
		*n = Number(data)
	}
	return nil
}
