package claims

import "strings"

// DefaultMultiAttributeSeparator separates the values of a multi-valued
// attribute when the user store does not configure its own.
const DefaultMultiAttributeSeparator = ",,,"

// IsMultiValued reports whether value holds more than one attribute value
func IsMultiValued(value, separator string) bool {
	return separator != "" && strings.Contains(value, separator)
}

// SplitMultiValued splits value on the literal separator.
// Segments are returned as-is, empty ones included.
func SplitMultiValued(value, separator string) []string {
	return strings.Split(value, separator)
}

// ValueOf converts a raw attribute value into a claim value: a []string when
// the value is multi-valued, the string itself otherwise.
func ValueOf(value, separator string) any {
	if IsMultiValued(value, separator) {
		return SplitMultiValued(value, separator)
	}
	return value
}
