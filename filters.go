package laraplate

// RuleListFilter provides options for filtering ACL rule listings.
type RuleListFilter struct {
	// Filter by bound permission
	PermissionID int64

	// Filter by permission name prefix, e.g. "core." or "core.invoices."
	PermissionPrefix string

	// Filter by guard of the bound permission
	Guard string

	// Pagination, 1-based
	Page    int
	PerPage int
}

// NewRuleListFilter creates a new RuleListFilter with default values.
func NewRuleListFilter() RuleListFilter {
	return RuleListFilter{
		Page:    1,
		PerPage: DefaultPerPage,
	}
}

// WithPermission sets the permission id filter.
func (f RuleListFilter) WithPermission(id int64) RuleListFilter {
	f.PermissionID = id
	return f
}

// WithPermissionPrefix sets the permission name prefix filter.
func (f RuleListFilter) WithPermissionPrefix(prefix string) RuleListFilter {
	f.PermissionPrefix = prefix
	return f
}

// WithGuard sets the guard filter.
func (f RuleListFilter) WithGuard(guard string) RuleListFilter {
	f.Guard = guard
	return f
}

// WithPagination sets page and page size.
func (f RuleListFilter) WithPagination(page, perPage int) RuleListFilter {
	f.Page = page
	f.PerPage = perPage
	return f
}
