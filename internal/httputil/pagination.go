package httputil

import (
	"fmt"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ParsePagination parses and validates page/limit query parameters.
// Returns (page, limit, error). Defaults: page=1, limit=50; limit is capped
// at 100.
func ParsePagination(pageStr, limitStr string) (int, int, error) {
	page := 1
	limit := DefaultLimit

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid page parameter: must be an integer")
		}
		if p < 1 {
			p = 1
		}
		page = p
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid limit parameter: must be an integer")
		}
		if l < 1 || l > MaxLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", MaxLimit)
		}
		limit = l
	}

	return page, limit, nil
}
