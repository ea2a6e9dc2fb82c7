package input

import (
	"fmt"
	"sort"
)

// Common datamap keys reported by the input collaborator.
const (
	KeyPinchStrength = "pinch_strength"
	KeyGrab          = "grab"
	KeySelect        = "select"
)

// Datamap is the auxiliary key/value payload of a source.
type Datamap map[string]float32

// Float returns the scalar stored under key.
// A missing key is a configuration error and is reported, never defaulted.
func (d Datamap) Float(key string) (float32, error) {
	v, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q (have %v)", ErrMissingKey, key, d.Keys())
	}
	return v, nil
}

// Exceeds reports whether the value under key is strictly above threshold.
func (d Datamap) Exceeds(key string, threshold float32) (bool, error) {
	v, err := d.Float(key)
	if err != nil {
		return false, err
	}
	return v > threshold, nil
}

// Keys returns the sorted key names.
func (d Datamap) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
