package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100

	maxFilterValueLength = 512
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

var fieldName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Filter is one filter=field==value equality predicate.
type Filter struct {
	Field string
	Value string
}

// Params is a parsed list request: page window plus filters.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   []Filter
}

// FilterMap returns field -> value; a repeated field keeps its last value.
func (p Params) FilterMap() map[string]string {
	if len(p.Filters) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Filters))
	for _, f := range p.Filters {
		out[f.Field] = f.Value
	}
	return out
}

// Options are per-endpoint limits. Zero values fall back to the package defaults, and a list
// endpoint without AllowedFilterFields rejects every filter.
type Options struct {
	DefaultPageSize     int
	MaxPageSize         int
	AllowedFilterFields []string
}

func (o Options) bounds() (def, max int) {
	def, max = o.DefaultPageSize, o.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, max), max
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads pageSize, pageToken and any number of filter parameters.
func Parse(values url.Values, opts Options) (Params, error) {
	var (
		params Params
		err    error
	)
	if params.PageSize, err = opts.pageSize(values.Get("pageSize")); err != nil {
		return Params{}, err
	}
	if token := strings.TrimSpace(values.Get("pageToken")); token != "" {
		if params.Cursor, err = DecodeToken(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	if params.Filters, err = opts.filters(values["filter"]); err != nil {
		return Params{}, err
	}
	return params, nil
}

// pageSize clamps oversize requests rather than rejecting them.
func (o Options) pageSize(raw string) (int, error) {
	def, max := o.bounds()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return min(n, max), nil
}

func (o Options) filters(raw []string) ([]Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	allowed := slices.DeleteFunc(slices.Clone(o.AllowedFilterFields), func(f string) bool {
		return !fieldName.MatchString(f)
	})
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: filtering not supported", ErrInvalidFilter)
	}

	var out []Filter
	for _, expr := range raw {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		field, value, ok := strings.Cut(expr, "==")
		if !ok {
			return nil, fmt.Errorf("%w: expected field==value in %q", ErrInvalidFilter, strings.TrimSpace(expr))
		}
		field = strings.TrimSpace(field)
		switch {
		case !fieldName.MatchString(field):
			return nil, fmt.Errorf("%w: invalid field %q", ErrInvalidFilter, field)
		case !slices.Contains(allowed, field):
			return nil, fmt.Errorf("%w: field %q is not allowed", ErrInvalidFilter, field)
		}
		if value = filterValue(value); value == "" {
			return nil, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, field)
		}
		out = append(out, Filter{Field: field, Value: value})
	}
	return out, nil
}

// filterValue unquotes and flattens a value onto one line, capped in length.
func filterValue(v string) string {
	v = strings.Trim(strings.TrimSpace(v), `"'`)
	v = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(v))
	if len(v) > maxFilterValueLength {
		v = v[:maxFilterValueLength]
	}
	return v
}
