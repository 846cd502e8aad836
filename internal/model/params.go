package model

// Params is the caller-supplied parameter bag of a render job. Keys are case-sensitive.
type Params map[string]any

// Merge returns a new Params holding defaults overridden by p.
func (p Params) Merge(defaults map[string]any) Params {
	out := make(Params, len(defaults)+len(p))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of p. A nil Params clones to an empty one.
func (p Params) Clone() Params {
	return p.Merge(nil)
}

// Int64 returns the integer value stored under key. JSON numbers decode as
// float64, so integral floats are accepted.
func (p Params) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	case float32:
		if v == float32(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Float64 returns the numeric value stored under key.
func (p Params) Float64(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String returns the string stored under key.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}
