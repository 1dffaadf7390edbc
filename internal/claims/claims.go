// Package claims defines the claim map returned to relying applications and
// helpers for working with claim values.
package claims

import "maps"

// Sub is the subject claim. Every resolved claim map carries it.
const Sub = "sub"

// Claims maps a claim identifier (a URI or a short OIDC name) to its value.
// Values are either a string or a []string for multi-valued attributes, but
// claims parsed from JSON may hold any JSON value.
type Claims map[string]any

// Copy returns a shallow copy of the claims
func (c Claims) Copy() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	maps.Copy(out, c)
	return out
}

// Merge copies every claim from other into c, overwriting existing keys
func (c Claims) Merge(other Claims) {
	maps.Copy(c, other)
}

// GetString returns the claim as a string, or "" if absent or not a string
func (c Claims) GetString(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// GetStrings returns the claim as a string slice.
// A single string value is returned as a one-element slice.
func (c Claims) GetStrings(key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Subject returns the value of the sub claim
func (c Claims) Subject() string {
	return c.GetString(Sub)
}
