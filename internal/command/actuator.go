package command

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Actuator space defaults.
const (
	DefaultActuatorPrefix = "r"
	DefaultActuatorCount  = 8
	DefaultMaxValue       = 255
)

// ActuatorSpace is the fixed, enumerable set of actuator names a device
// accepts: Prefix followed by 1..Count with no leading zeros (r1 … r8).
// Values are booleans or integral numbers in [0, MaxValue].
type ActuatorSpace struct {
	Prefix   string
	Count    int
	MaxValue int
}

// DefaultActuatorSpace returns r1…r8 with values up to 255.
func DefaultActuatorSpace() ActuatorSpace {
	return ActuatorSpace{
		Prefix:   DefaultActuatorPrefix,
		Count:    DefaultActuatorCount,
		MaxValue: DefaultMaxValue,
	}
}

// Names lists every actuator in the space in index order.
func (s ActuatorSpace) Names() []string {
	out := make([]string, 0, s.Count)
	for i := 1; i <= s.Count; i++ {
		out = append(out, s.Prefix+strconv.Itoa(i))
	}
	return out
}

// Contains reports whether name addresses an actuator in the space.
func (s ActuatorSpace) Contains(name string) bool {
	rest, ok := strings.CutPrefix(name, s.Prefix)
	if !ok || rest == "" || rest[0] == '0' {
		return false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return false
	}
	return n >= 1 && n <= s.Count
}

// Validate checks every assignment in fields. The first offending actuator,
// in name order, is reported wrapped in ErrInvalidCommand.
func (s ActuatorSpace) Validate(fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no field assignments", ErrInvalidCommand)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !s.Contains(name) {
			return fmt.Errorf("%w: unknown actuator %q (valid: %s1..%s%d)",
				ErrInvalidCommand, name, s.Prefix, s.Prefix, s.Count)
		}
		if err := s.validateValue(fields[name]); err != nil {
			return fmt.Errorf("%w: actuator %q: %v", ErrInvalidCommand, name, err)
		}
	}
	return nil
}

// validateValue accepts booleans and integral numbers within range.
func (s ActuatorSpace) validateValue(v any) error {
	switch val := v.(type) {
	case bool:
		return nil
	case float64:
		return s.checkNumber(val)
	case float32:
		return s.checkNumber(float64(val))
	case int:
		return s.checkNumber(float64(val))
	case int64:
		return s.checkNumber(float64(val))
	case int32:
		return s.checkNumber(float64(val))
	case uint8:
		return s.checkNumber(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return fmt.Errorf("value %q is not a number", val.String())
		}
		return s.checkNumber(f)
	case nil:
		return fmt.Errorf("value is null")
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

func (s ActuatorSpace) checkNumber(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return fmt.Errorf("value %v is not an integer", f)
	}
	if f < 0 || f > float64(s.MaxValue) {
		return fmt.Errorf("value %v out of range 0..%d", f, s.MaxValue)
	}
	return nil
}
