package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parseIntFromFloat parses a string that may be an integer ("3") or a float
// with no fractional part ("3.0"). Some loggers write every number as float.
func parseIntFromFloat(s string) (int, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid integer", s)
	}
	return int(f), nil
}

// parseFloat parses a finite float64, trimming surrounding whitespace.
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parseFloat: %q is not finite", s)
	}
	return f, nil
}
