package laraplate

import (
	"context"
	"errors"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// Default pagination settings.
const (
	DefaultPerPage = 25
	MaxPerPage     = 500
)

// CrudMeta describes a page of results. Every field is optional.
type CrudMeta struct {
	TotalRecords   *int       `json:"total_records,omitempty"`
	CurrentRecords *int       `json:"current_records,omitempty"`
	CurrentPage    *int       `json:"current_page,omitempty"`
	TotalPages     *int       `json:"total_pages,omitempty"`
	Pagination     *int       `json:"pagination,omitempty"`
	From           *int       `json:"from,omitempty"`
	To             *int       `json:"to,omitempty"`
	Class          *string    `json:"class,omitempty"`
	Table          *string    `json:"table,omitempty"`
	CachedAt       *time.Time `json:"cached_at,omitempty"`
}

// CrudResult is the envelope returned by list and detail operations.
type CrudResult struct {
	Data       any       `json:"data"`
	Meta       *CrudMeta `json:"meta,omitempty"`
	Error      string    `json:"error,omitempty"`
	StatusCode int       `json:"-"`
}

// NewCrudMeta computes the page metadata. from/to are 1-based record positions and
// are left nil on an empty page.
func NewCrudMeta(total, current, page, perPage int) *CrudMeta {
	page, perPage = normalizePage(page, perPage)

	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}

	meta := &CrudMeta{
		TotalRecords:   intPtr(total),
		CurrentRecords: intPtr(current),
		CurrentPage:    intPtr(page),
		TotalPages:     intPtr(pages),
		Pagination:     intPtr(perPage),
	}
	if current > 0 {
		from := (page-1)*perPage + 1
		meta.From = intPtr(from)
		meta.To = intPtr(from + current - 1)
	}
	return meta
}

// WithSource sets the class and table the page was read from.
func (m *CrudMeta) WithSource(class, table string) *CrudMeta {
	m.Class = StringPtr(class)
	m.Table = StringPtr(table)
	return m
}

// WithCachedAt marks the page as served from a cache.
func (m *CrudMeta) WithCachedAt(t time.Time) *CrudMeta {
	m.CachedAt = &t
	return m
}

// Paginate scans one page of q into dest and counts the full result set. Apply ACL
// scoping to q before calling it so both the page and the count are restricted.
//
// Example:
//
//	var invoices []Invoice
//	q := db.NewSelect().Model(&invoices).Apply(acl.Scope(ctx, (*Invoice)(nil), permID))
//	res := laraplate.Paginate(ctx, q, page, 20, &invoices)
func Paginate(ctx context.Context, q *bun.SelectQuery, page, perPage int, dest any) CrudResult {
	page, perPage = normalizePage(page, perPage)

	total, err := q.Limit(perPage).Offset((page-1)*perPage).ScanAndCount(ctx)
	if err != nil {
		// Scope failures are recorded on the query and come back as *Error.
		var e *Error
		if errors.As(err, &e) {
			return ErrorResult(err)
		}
		return ErrorResult(NewError(ErrDatabaseError, "failed to load page").
			WithCause(dbkit.WithErr1(err, "Paginate").Err()))
	}

	current := total - (page-1)*perPage
	switch {
	case current < 0:
		current = 0
	case current > perPage:
		current = perPage
	}

	return CrudResult{
		Data:       dest,
		Meta:       NewCrudMeta(total, current, page, perPage),
		StatusCode: StatusCode(nil),
	}
}

// ErrorResult builds a result carrying err and its status code.
func ErrorResult(err error) CrudResult {
	return CrudResult{
		Error:      err.Error(),
		StatusCode: StatusCode(err),
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func intPtr(i int) *int {
	return &i
}
