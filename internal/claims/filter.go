package claims

// Filter narrows a resolved claim map before it leaves the service,
// for example before claims are forwarded upstream in a request header.
type Filter interface {
	Filter(c Claims) Claims
}

// AllowList keeps only the listed claims
type AllowList struct {
	keep map[string]struct{}
}

// NewAllowList creates a filter that keeps only names
func NewAllowList(names []string) *AllowList {
	return &AllowList{keep: toSet(names)}
}

func (f *AllowList) Filter(c Claims) Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(f.keep))
	for name := range f.keep {
		if v, ok := c[name]; ok {
			out[name] = v
		}
	}
	return out
}

// DenyList drops the listed claims. The sub claim is never dropped.
type DenyList struct {
	drop map[string]struct{}
}

// NewDenyList creates a filter that removes names
func NewDenyList(names []string) *DenyList {
	drop := toSet(names)
	delete(drop, Sub)
	return &DenyList{drop: drop}
}

func (f *DenyList) Filter(c Claims) Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		if _, denied := f.drop[k]; !denied {
			out[k] = v
		}
	}
	return out
}

// Passthrough returns a copy of every claim
type Passthrough struct{}

func (Passthrough) Filter(c Claims) Claims {
	return c.Copy()
}

// NewFilter picks a filter from allow and deny lists.
// An allow list wins when both are given; neither yields Passthrough.
func NewFilter(allow, deny []string) Filter {
	switch {
	case len(allow) > 0:
		return NewAllowList(allow)
	case len(deny) > 0:
		return NewDenyList(deny)
	default:
		return Passthrough{}
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
