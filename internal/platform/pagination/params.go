package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	domain "github.com/bazaarly/api/internal/domain"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Cursor represents the opaque position encoded into page tokens.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// FromRequest reads pageSize and pageToken from the query string.
func FromRequest(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	pager := domain.Pagination{PageSize: DefaultPageSize}

	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if size <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		if size > DefaultMaxPageSize {
			size = DefaultMaxPageSize
		}
		pager.PageSize = size
	}

	token := strings.TrimSpace(query.Get("pageToken"))
	if token != "" {
		if _, err := DecodeToken(token); err != nil {
			return domain.Pagination{}, err
		}
	}
	pager.PageToken = token
	return pager, nil
}
