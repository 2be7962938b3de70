package laraplate

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"
)

// Sort directions accepted by ACL rules, after normalization.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Scopeable is implemented by models whose queries can be narrowed by ACL rules.
// The returned name must be defined in the Registry.
//
// Example:
//
//	func (*Invoice) ACLModel() string { return "invoices" }
type Scopeable interface {
	ACLModel() string
}

// ModelName is a Scopeable for callers that only have the registry name at hand.
type ModelName string

// ACLModel implements Scopeable.
func (m ModelName) ACLModel() string { return string(m) }

// AclService applies row-level restrictions to select queries. Whether the caller holds
// the permission at all is decided before calling it; the service only decides which
// rows that permission exposes. It keeps no per-call state and is safe for concurrent use.
type AclService struct {
	registry *Registry
	store    RuleStore
	logger   *zap.Logger
	metrics  *Metrics
}

// AclOption configures the AclService.
type AclOption func(*AclService)

// WithAclLogger sets the logger.
func WithAclLogger(logger *zap.Logger) AclOption {
	return func(s *AclService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAclMetrics sets the metrics sink.
func WithAclMetrics(m *Metrics) AclOption {
	return func(s *AclService) {
		s.metrics = m
	}
}

// NewAclService creates an AclService reading rules from store.
func NewAclService(registry *Registry, store RuleStore, opts ...AclOption) *AclService {
	s := &AclService{
		registry: registry,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyAclToQuery narrows q with the rule bound to permissionID and returns it for
// further chaining. The query is never executed here.
//
// A permission without a rule leaves the query untouched. Filters are AND-ed equality
// constraints on top of whatever q already has; sort pairs are appended to the
// existing ordering in the order they were stored. The rule is fully validated before
// q is modified, so on error q is returned exactly as it was passed in.
//
// The filters are rendered as the ON condition of an inner join against a one-row
// derived table aliased acl_<permissionID>, never into WHERE, so OR-ed conditions
// already on q cannot widen the result past the rule.
//
// Example:
//
//	var invoices []Invoice
//	q := db.NewSelect().Model(&invoices).Where("invoice.archived = ?", false)
//	q, err := acl.ApplyAclToQuery(ctx, q, (*Invoice)(nil), permissionID)
//	if err != nil {
//	    return err
//	}
//	err = q.Limit(20).Scan(ctx)
func (s *AclService) ApplyAclToQuery(ctx context.Context, q *bun.SelectQuery, model Scopeable, permissionID int64) (*bun.SelectQuery, error) {
	lookup, err := s.store.Lookup(ctx, permissionID)
	if err != nil {
		s.metrics.aclOutcome(aclOutcomeError)
		return q, err
	}

	if !lookup.HasRule() {
		s.metrics.aclOutcome(aclOutcomeUnrestricted)
		return q, nil
	}

	def, err := s.registry.lookup(model.ACLModel())
	if err != nil {
		s.metrics.aclOutcome(aclOutcomeInvalid)
		return q, err
	}

	plan, err := compileRule(def, lookup.Rule)
	if err != nil {
		s.metrics.aclOutcome(aclOutcomeInvalid)
		if e, ok := err.(*Error); ok {
			e.WithPermission(permissionID)
		}
		return q, err
	}

	plan.apply(q, permissionID)
	s.metrics.aclOutcome(aclOutcomeRestricted)

	s.logger.Debug("acl rule applied",
		zap.Int64("permission_id", permissionID),
		zap.String("model", def.name),
		zap.Stringer("filters", lookup.Rule.Filters),
		zap.Stringer("sort", lookup.Rule.Sort),
	)

	return q, nil
}

// Scope returns a query modifier for q.Apply. Errors are recorded on the query and
// returned when it runs.
//
// Example:
//
//	err := db.NewSelect().Model(&invoices).
//	    Apply(acl.Scope(ctx, (*Invoice)(nil), permissionID)).
//	    Scan(ctx)
func (s *AclService) Scope(ctx context.Context, model Scopeable, permissionID int64) func(*bun.SelectQuery) *bun.SelectQuery {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		q, err := s.ApplyAclToQuery(ctx, q, model, permissionID)
		if err != nil {
			return q.Err(err)
		}
		return q
	}
}

// ValidateRule checks a rule against a model without touching any query. It is meant
// for rule authoring so bad rules are rejected before they reach a list endpoint.
func (s *AclService) ValidateRule(rule *AclRule, model Scopeable) error {
	return ValidateRule(s.registry, rule, model)
}

// ValidateRule checks the rule structure and every field and direction against the
// model definition.
func ValidateRule(registry *Registry, rule *AclRule, model Scopeable) error {
	if rule == nil {
		return NewError(ErrInvalidRule, "rule is nil")
	}
	if err := validateStruct(rule, ErrInvalidRule); err != nil {
		return err
	}
	def, err := registry.lookup(model.ACLModel())
	if err != nil {
		return err
	}
	_, err = compileRule(def, rule)
	return err
}

// NormalizeSortDirection lowercases and trims a direction, accepting only asc and desc.
func NormalizeSortDirection(direction string) (string, error) {
	switch d := strings.ToLower(strings.TrimSpace(direction)); d {
	case SortAsc, SortDesc:
		return d, nil
	default:
		return "", NewError(ErrInvalidSortDirection, fmt.Sprintf("direction %q must be asc or desc", direction))
	}
}

type filterClause struct {
	field    resolvedField
	operator filterOperator
	value    any
}

type filterOperator int

const (
	opEqual filterOperator = iota
	opIsNull
	opIn
)

type sortClause struct {
	column    string
	direction string
}

// rulePlan is a rule validated against a model, ready to be applied.
type rulePlan struct {
	model   *ModelDefinition
	filters []filterClause
	sorts   []sortClause
}

func compileRule(def *ModelDefinition, rule *AclRule) (*rulePlan, error) {
	if len(rule.Filters) == 0 {
		return nil, NewError(ErrInvalidRule, "rule has no filters").WithModel(def.name)
	}

	plan := &rulePlan{model: def}

	for _, pair := range rule.Filters {
		field, err := def.resolve(pair.Field)
		if err != nil {
			return nil, err
		}
		op, value, err := filterValue(pair.Value)
		if err != nil {
			return nil, NewError(ErrInvalidRule, err.Error()).WithModel(def.name).WithField(pair.Field)
		}
		plan.filters = append(plan.filters, filterClause{field: field, operator: op, value: value})
	}

	for _, pair := range rule.Sort {
		if !def.HasField(pair.Field) {
			return nil, NewError(ErrInvalidFilterField,
				fmt.Sprintf("sort field %q is not a column of model %q", pair.Field, def.name)).
				WithModel(def.name).
				WithField(pair.Field)
		}
		raw, ok := pair.Value.(string)
		if !ok {
			return nil, NewError(ErrInvalidSortDirection,
				fmt.Sprintf("direction for %q must be a string, got %T", pair.Field, pair.Value)).
				WithModel(def.name).
				WithField(pair.Field)
		}
		dir, err := NormalizeSortDirection(raw)
		if err != nil {
			return nil, err.(*Error).WithModel(def.name).WithField(pair.Field)
		}
		plan.sorts = append(plan.sorts, sortClause{column: pair.Field, direction: dir})
	}

	return plan, nil
}

func filterValue(v any) (filterOperator, any, error) {
	if v == nil {
		return opIsNull, nil, nil
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		if _, isBytes := v.([]byte); isBytes {
			return opEqual, v, nil
		}
		if reflect.ValueOf(v).Len() == 0 {
			return 0, nil, fmt.Errorf("empty list for IN filter")
		}
		return opIn, v, nil
	case reflect.Map, reflect.Struct, reflect.Func, reflect.Chan:
		return 0, nil, fmt.Errorf("unsupported filter value of type %T", v)
	default:
		return opEqual, v, nil
	}
}

func (p *rulePlan) apply(q *bun.SelectQuery, permissionID int64) {
	// A WHERE term would bind to the caller's last OR branch only; a join condition
	// filters every row whatever q already has.
	q.Join("JOIN (SELECT 1) AS ?", bun.Ident(guardAlias(permissionID)))
	for _, f := range p.filters {
		if f.field.relation == nil {
			q.JoinOn("?", predicate(bun.Ident(p.model.column(f.field.column)), f.operator, f.value))
			continue
		}
		rel := f.field.relation
		q.JoinOn("EXISTS (SELECT 1 FROM ? AS ? WHERE ? = ? AND ?)",
			bun.Ident(rel.table),
			bun.Ident(rel.alias),
			bun.Ident(rel.alias+"."+rel.remoteColumn),
			bun.Ident(p.model.column(rel.localColumn)),
			predicate(bun.Ident(rel.alias+"."+f.field.column), f.operator, f.value),
		)
	}

	for _, srt := range p.sorts {
		if srt.direction == SortDesc {
			q.OrderExpr("? DESC", bun.Ident(p.model.column(srt.column)))
		} else {
			q.OrderExpr("? ASC", bun.Ident(p.model.column(srt.column)))
		}
	}
}

func guardAlias(permissionID int64) string {
	return "acl_" + strconv.FormatInt(permissionID, 10)
}

func predicate(column bun.Ident, op filterOperator, value any) schema.QueryAppender {
	switch op {
	case opIsNull:
		return bun.SafeQuery("? IS NULL", column)
	case opIn:
		return bun.SafeQuery("? IN (?)", column, bun.In(value))
	default:
		return bun.SafeQuery("? = ?", column, value)
	}
}
