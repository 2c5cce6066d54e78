package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/databike/replay/pkg/core"
)

// BikeDefExt is the file extension of bike definition files.
const BikeDefExt = ".xml"

// bikeDefFields lists the required fields; each must appear exactly once.
var bikeDefFields = []string{
	"bikename",
	"prefabpath",
	"frontgears",
	"reargears",
	"maxfrontsus",
	"maxrearsus",
	"maxseatpos",
	"frontbrake",
}

// BikeDefSource resolves a bike name to its definition.
type BikeDefSource interface {
	LoadBikeDef(name string) (core.BikeDefinition, error)
}

// BikeDefDir loads bike definitions from <Dir>/<name>.xml.
type BikeDefDir struct {
	Dir string
}

// LoadBikeDef implements BikeDefSource.
func (d BikeDefDir) LoadBikeDef(name string) (core.BikeDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return core.BikeDefinition{}, fmt.Errorf("invalid bike name %q", name)
	}
	return ReadBikeDefFromFile(filepath.Join(d.Dir, name+BikeDefExt))
}

// ReadBikeDefFromFile opens path and parses it with ReadBikeDef.
func ReadBikeDefFromFile(path string) (core.BikeDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.BikeDefinition{}, fmt.Errorf("failed to open bike definition: %w", err)
	}
	defer f.Close()
	return ReadBikeDef(f)
}

// ReadBikeDef parses a <bikedef> document. Unknown elements, malformed
// values and missing or repeated fields are rejected with a *DataFormatError.
func ReadBikeDef(r io.Reader) (core.BikeDefinition, error) {
	var def core.BikeDefinition
	seen := make(map[string]int, len(bikeDefFields))
	dec := xml.NewDecoder(r)

	fail := func(msg string, err error) (core.BikeDefinition, error) {
		line, col := dec.InputPos()
		return core.BikeDefinition{}, &DataFormatError{Line: line, Col: col, State: "bikedef", Msg: msg, Err: err}
	}

	closed := false
	for !closed {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return fail("unexpected end of file", nil)
		}
		if err != nil {
			return fail("malformed xml", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			if name == "bikedef" {
				continue
			}
			var text string
			if err := dec.DecodeElement(&text, &t); err != nil {
				return fail("malformed element "+name, err)
			}
			if err := setBikeDefField(&def, name, text); err != nil {
				return fail(err.Error(), nil)
			}
			seen[name]++
		case xml.EndElement:
			if strings.ToLower(t.Name.Local) != "bikedef" {
				return fail("unexpected closing tag "+t.Name.Local, nil)
			}
			closed = true
		}
	}

	for _, f := range bikeDefFields {
		if seen[f] != 1 {
			return fail(fmt.Sprintf("field %s must appear exactly once, found %d", f, seen[f]), nil)
		}
	}
	return def, nil
}

func setBikeDefField(def *core.BikeDefinition, name, text string) error {
	var err error
	switch name {
	case "bikename":
		def.Name = strings.TrimSpace(text)
	case "prefabpath":
		def.PrefabPath = strings.TrimSpace(text)
	case "frontgears":
		def.FrontGears, err = parsePositiveInt(text)
	case "reargears":
		def.RearGears, err = parsePositiveInt(text)
	case "maxfrontsus":
		def.MaxFrontSus, err = parsePositiveFloat(text)
	case "maxrearsus":
		def.MaxRearSus, err = parsePositiveFloat(text)
	case "maxseatpos":
		def.MaxSeatPos, err = parsePositiveFloat(text)
	case "frontbrake":
		def.FrontBrake, err = core.ParseBrakeSide(strings.TrimSpace(text))
	default:
		return fmt.Errorf("unknown element %s", name)
	}
	if err != nil {
		return fmt.Errorf("invalid %s value %q", name, strings.TrimSpace(text))
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	v, err := parseIntFromFloat(s)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, fmt.Errorf("%d is not positive", v)
	}
	return v, nil
}

// Maxima are divisors during normalisation, so zero is rejected.
func parsePositiveFloat(s string) (float64, error) {
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%g is not positive", v)
	}
	return v, nil
}
