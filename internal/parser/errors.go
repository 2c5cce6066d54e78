package parser

import (
	"errors"
	"fmt"
)

// ErrDataFormat matches every error produced for malformed timeline or bike
// definition input.
var ErrDataFormat = errors.New("invalid data format")

// DataFormatError describes where and why an input file was rejected.
type DataFormatError struct {
	Line  int
	Col   int
	State string
	Msg   string
	Err   error
}

func (e *DataFormatError) Error() string {
	var s string
	if e.Line > 0 {
		s = fmt.Sprintf("data format error at %d:%d", e.Line, e.Col)
	} else {
		s = "data format error"
	}
	if e.State != "" {
		s += " in " + e.State
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *DataFormatError) Unwrap() error {
	return e.Err
}

func (e *DataFormatError) Is(target error) bool {
	return target == ErrDataFormat
}
