package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/agentstats/internal/domain"
)

// QueryParamParser is a helper for parsing all query params and gathering all
// errors in 1 sweep, so every invalid field is reported at once.
type QueryParamParser struct {
	Errors domain.ValidationErrors
}

func NewQueryParamParser() *QueryParamParser {
	return &QueryParamParser{
		Errors: domain.ValidationErrors{},
	}
}

// Err returns the collected errors, or nil.
func (p *QueryParamParser) Err() error {
	if len(p.Errors) == 0 {
		return nil
	}
	return p.Errors
}

// NonNegativeInt parses an integer that may not be negative.
func (p *QueryParamParser) NonNegativeInt(vals url.Values, def int, queryParam string) int {
	v, err := parseQueryParam(vals, strconv.Atoi, def, queryParam)
	if err != nil {
		p.Errors = append(p.Errors, domain.ValidationError{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q must be a valid integer (%s)", queryParam, err.Error()),
		})
		return def
	}
	if v < 0 {
		p.Errors = append(p.Errors, domain.ValidationError{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q must not be negative", queryParam),
		})
		return def
	}
	return v
}

func (*QueryParamParser) String(vals url.Values, def string, queryParam string) string {
	v, _ := parseQueryParam(vals, func(v string) (string, error) {
		return strings.TrimSpace(v), nil
	}, def, queryParam)
	return v
}

// OptionalString returns nil when the param is absent or blank.
func (p *QueryParamParser) OptionalString(vals url.Values, queryParam string) *string {
	v := p.String(vals, "", queryParam)
	if v == "" {
		return nil
	}
	return &v
}

// Time parses an ISO-8601 date or date-time bound with parse.
func (p *QueryParamParser) Time(vals url.Values, queryParam string, parse func(string) (time.Time, error)) *time.Time {
	return ParseCustom(p, vals, (*time.Time)(nil), queryParam, func(v string) (*time.Time, error) {
		t, err := parse(v)
		if err != nil {
			return nil, err
		}
		return &t, nil
	})
}

// OneOf accepts only the listed values.
func (p *QueryParamParser) OneOf(vals url.Values, queryParam string, allowed ...string) string {
	return ParseCustom(p, vals, "", queryParam, func(v string) (string, error) {
		v = strings.TrimSpace(v)
		for _, candidate := range allowed {
			if v == candidate {
				return v, nil
			}
		}
		return "", fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	})
}

// ParseCustom has to be a function, not a method on QueryParamParser because generics
// cannot be used on struct methods.
func ParseCustom[T any](parser *QueryParamParser, vals url.Values, def T, queryParam string, parseFunc func(v string) (T, error)) T {
	v, err := parseQueryParam(vals, parseFunc, def, queryParam)
	if err != nil {
		parser.Errors = append(parser.Errors, domain.ValidationError{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q has invalid value: %s", queryParam, err.Error()),
		})
		return def
	}
	return v
}

func parseQueryParam[T any](vals url.Values, parse func(v string) (T, error), def T, queryParam string) (T, error) {
	if !vals.Has(queryParam) || vals.Get(queryParam) == "" {
		return def, nil
	}
	str := vals.Get(queryParam)
	return parse(str)
}
