package httputil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/crm-api-gateway/internal/model"
)

var reservedParams = map[string]bool{
	"page":       true,
	"limit":      true,
	"sort_by":    true,
	"sort_order": true,
	"fields":     true,
	"expand":     true,
	"q":          true,
}

// ParseListQuery parses pagination, sorting, field selection, relationship
// expansion and filters from query parameters. Filters come in two shapes:
// filter[field][operator]=value, or bare field=value for equality.
func ParseListQuery(values url.Values) (model.ListQuery, error) {
	var q model.ListQuery

	page, limit, err := ParsePagination(values.Get("page"), values.Get("limit"))
	if err != nil {
		return q, err
	}
	q.Page = page
	q.Limit = limit

	q.SortBy = values.Get("sort_by")
	q.SortOrder = strings.ToLower(values.Get("sort_order"))
	if q.SortOrder == "" {
		q.SortOrder = "asc"
	}
	if q.SortOrder != "asc" && q.SortOrder != "desc" {
		return q, fmt.Errorf("sort_order must be asc or desc")
	}

	if f := values.Get("fields"); f != "" {
		q.Fields = SplitCommaList(f)
	}
	if e := values.Get("expand"); e != "" {
		q.Expand = SplitCommaList(e)
	}

	for key, vals := range values {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}
		if strings.HasPrefix(key, "filter[") {
			field, op, err := parseFilterKey(key)
			if err != nil {
				return q, err
			}
			q.Filters = append(q.Filters, model.Filter{Field: field, Op: op, Value: vals[0]})
			continue
		}
		// Bare field=value is shorthand for equality.
		q.Filters = append(q.Filters, model.Filter{Field: key, Op: model.OpEq, Value: vals[0]})
	}

	return q, nil
}

// parseFilterKey decomposes "filter[field][operator]" into its parts.
func parseFilterKey(key string) (string, model.FilterOp, error) {
	inner := strings.TrimPrefix(key, "filter[")
	field, rest, ok := strings.Cut(inner, "]")
	if !ok || field == "" {
		return "", "", fmt.Errorf("malformed filter parameter %q", key)
	}
	if rest == "" {
		return field, model.OpEq, nil
	}
	if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return "", "", fmt.Errorf("malformed filter parameter %q", key)
	}
	op := model.FilterOp(rest[1 : len(rest)-1])
	if !model.ValidFilterOp(op) {
		return "", "", fmt.Errorf("unknown filter operator %q", op)
	}
	return field, op, nil
}

// SplitCommaList splits a comma-separated parameter, dropping empty parts.
func SplitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
