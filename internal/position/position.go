// Package position resolves coordinate specifications such as {"x":"~5","y":"~","z":"3"}
// into absolute points. A "~" makes an axis relative to a caller-supplied origin.
package position

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"badgeup.io/relay/internal/protocol"
)

// RelativeMarker flags an axis as an offset from the origin. It may appear
// anywhere in the string; exactly one occurrence is removed.
const RelativeMarker = "~"

var axes = [3]string{"x", "y", "z"}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func FromArray(a [3]float64) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3) String() string {
	return fmt.Sprintf("(%s, %s, %s)", fmtCoord(v.X), fmtCoord(v.Y), fmtCoord(v.Z))
}

func fmtCoord(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// DefaultSpec is the player's own position.
func DefaultSpec() map[string]any {
	return map[string]any{"x": RelativeMarker, "y": RelativeMarker, "z": RelativeMarker}
}

// Resolve converts spec into an absolute point. Either all three axes resolve
// or an error is returned; there is no partial result.
func Resolve(spec map[string]any, origin Vec3) (Vec3, error) {
	base := origin.Array()
	var out [3]float64
	for i, axis := range axes {
		raw, ok := spec[axis]
		if !ok {
			return Vec3{}, protocol.Errorf(protocol.ErrMissingField, axis, "coordinate axis absent")
		}
		offset, relative, err := parseAxis(axis, raw)
		if err != nil {
			return Vec3{}, err
		}
		if relative {
			out[i] = base[i] + offset
		} else {
			out[i] = offset
		}
	}
	return FromArray(out), nil
}

func parseAxis(axis string, raw any) (float64, bool, error) {
	switch v := raw.(type) {
	case string:
		return parseCoordString(axis, v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, protocol.Wrap(protocol.ErrMalformedValue, axis, err)
		}
		return checkFinite(axis, f)
	}
	// Any other numeric kind is an absolute coordinate.
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), false, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), false, nil
	case reflect.Float32, reflect.Float64:
		return checkFinite(axis, rv.Float())
	default:
		return 0, false, protocol.Errorf(protocol.ErrMalformedValue, axis, "unsupported coordinate type %T", raw)
	}
}

func parseCoordString(axis, s string) (float64, bool, error) {
	relative := false
	if i := strings.Index(s, RelativeMarker); i >= 0 {
		relative = true
		s = s[:i] + s[i+len(RelativeMarker):]
	}
	if s == "" {
		return 0, relative, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false, protocol.Errorf(protocol.ErrMalformedValue, axis, "not a number: %q", s)
	}
	if _, _, err := checkFinite(axis, f); err != nil {
		return 0, false, err
	}
	return f, relative, nil
}

func checkFinite(axis string, f float64) (float64, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, protocol.Errorf(protocol.ErrMalformedValue, axis, "non-finite coordinate")
	}
	return f, false, nil
}

// ParseSpec builds a spec from three command-style tokens, e.g. ["~5", "~", "3"].
func ParseSpec(args []string) (map[string]any, error) {
	if len(args) != len(axes) {
		return nil, protocol.Errorf(protocol.ErrMissingField, "", "want 3 coordinates, got %d", len(args))
	}
	spec := make(map[string]any, len(axes))
	for i, axis := range axes {
		spec[axis] = args[i]
	}
	return spec, nil
}
