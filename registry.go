package laraplate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the models that can be narrowed by ACL rules or protected by locks,
// together with the fields each model exposes. It is created at startup and should be
// treated as immutable after initialization.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*ModelDefinition
}

// ModelDefinition declares a model: its table, the alias its queries use, the columns
// rules may reference and the relations reachable from it.
type ModelDefinition struct {
	name        string
	table       string
	alias       string
	key         string
	fields      map[string]struct{}
	relations   map[string]*RelationDefinition
	fingerprint FingerprintColumn
	registry    *Registry
}

// RelationDefinition declares a relation reachable from a model. Rules filter on it
// with "relation.column" keys, compiled to a correlated EXISTS subquery.
type RelationDefinition struct {
	name         string
	table        string
	alias        string
	localColumn  string
	remoteColumn string
	fields       map[string]struct{}
	model        *ModelDefinition
}

// NewRegistry creates a new model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*ModelDefinition),
	}
}

// DefineModel starts defining a model. Table defaults to the model name, the primary
// key to "id" and the fingerprint to a version counter in "lock_version".
//
// Example:
//
//	registry.DefineModel("invoices").
//	    Alias("invoice").
//	    Fields("id", "tenant_id", "name", "created_at").
//	    Fingerprint("updated_at", laraplate.FingerprintTimestamp).
//	    Relation("customer").Table("customers").Join("customer_id", "id").Fields("country")
func (r *Registry) DefineModel(name string) *ModelDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	model := &ModelDefinition{
		name:        name,
		table:       name,
		key:         "id",
		fields:      make(map[string]struct{}),
		relations:   make(map[string]*RelationDefinition),
		fingerprint: FingerprintColumn{Column: DefaultVersionColumn, Kind: FingerprintVersion},
		registry:    r,
	}
	r.models[name] = model
	return model
}

// GetModel returns the model definition, or nil if not defined.
func (r *Registry) GetModel(name string) *ModelDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// GetModels returns all defined model names, sorted.
func (r *Registry) GetModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateModel checks if a model is defined.
func (r *Registry) ValidateModel(name string) error {
	if r.GetModel(name) == nil {
		return NewError(ErrUnknownModel, fmt.Sprintf("model %q not defined", name)).WithModel(name)
	}
	return nil
}

// lookup returns the definition or an ErrUnknownModel error.
func (r *Registry) lookup(name string) (*ModelDefinition, error) {
	def := r.GetModel(name)
	if def == nil {
		return nil, NewError(ErrUnknownModel, fmt.Sprintf("model %q not defined", name)).WithModel(name)
	}
	return def, nil
}

// Table sets the table name.
func (m *ModelDefinition) Table(table string) *ModelDefinition {
	m.table = table
	return m
}

// Alias sets the alias used by the model's select queries. It must match the alias
// bun gives the model (the `alias:` struct tag).
func (m *ModelDefinition) Alias(alias string) *ModelDefinition {
	m.alias = alias
	return m
}

// Key sets the primary key column.
func (m *ModelDefinition) Key(column string) *ModelDefinition {
	m.key = column
	return m
}

// Fields adds columns that rules may filter and sort on.
func (m *ModelDefinition) Fields(columns ...string) *ModelDefinition {
	for _, c := range columns {
		m.fields[c] = struct{}{}
	}
	return m
}

// Fingerprint sets the column used to detect concurrent modification.
func (m *ModelDefinition) Fingerprint(column string, kind FingerprintKind) *ModelDefinition {
	m.fingerprint = FingerprintColumn{Column: column, Kind: kind}
	return m
}

// Relation starts defining a relation reachable from this model.
func (m *ModelDefinition) Relation(name string) *RelationDefinition {
	rel := &RelationDefinition{
		name:   name,
		table:  name,
		alias:  name,
		fields: make(map[string]struct{}),
		model:  m,
	}
	m.relations[name] = rel
	return rel
}

// DefineModel continues defining models on the registry (fluent API).
func (m *ModelDefinition) DefineModel(name string) *ModelDefinition {
	return m.registry.DefineModel(name)
}

// Name returns the model name.
func (m *ModelDefinition) Name() string { return m.name }

// TableName returns the table name.
func (m *ModelDefinition) TableName() string { return m.table }

// KeyColumn returns the primary key column.
func (m *ModelDefinition) KeyColumn() string { return m.key }

// FingerprintColumn returns the fingerprint configuration.
func (m *ModelDefinition) FingerprintColumn() FingerprintColumn { return m.fingerprint }

// HasField reports whether column is declared on the model.
func (m *ModelDefinition) HasField(column string) bool {
	_, ok := m.fields[column]
	return ok
}

// GetFields returns the declared columns, sorted.
func (m *ModelDefinition) GetFields() []string {
	return sortedKeys(m.fields)
}

// GetRelation returns the relation definition, or nil.
func (m *ModelDefinition) GetRelation(name string) *RelationDefinition {
	return m.relations[name]
}

// qualifier is the prefix used for the model's own columns.
func (m *ModelDefinition) qualifier() string {
	if m.alias != "" {
		return m.alias
	}
	return m.table
}

// column returns the qualified column identifier.
func (m *ModelDefinition) column(name string) string {
	return m.qualifier() + "." + name
}

// resolvedField is a validated filter key.
type resolvedField struct {
	column   string
	relation *RelationDefinition
}

// resolve validates a filter key: either an own column, or relation.column for a
// declared relation.
func (m *ModelDefinition) resolve(field string) (resolvedField, error) {
	if m.HasField(field) {
		return resolvedField{column: field}, nil
	}

	relName, column, ok := strings.Cut(field, ".")
	if ok {
		if rel := m.relations[relName]; rel != nil && rel.HasField(column) {
			if rel.localColumn == "" || rel.remoteColumn == "" {
				return resolvedField{}, NewError(ErrInvalidFilterField,
					fmt.Sprintf("relation %q of model %q has no join columns", relName, m.name)).
					WithModel(m.name).
					WithField(field)
			}
			return resolvedField{column: column, relation: rel}, nil
		}
	}

	return resolvedField{}, NewError(ErrInvalidFilterField,
		fmt.Sprintf("field %q is not reachable from model %q", field, m.name)).
		WithModel(m.name).
		WithField(field)
}

// Table sets the related table name.
func (r *RelationDefinition) Table(table string) *RelationDefinition {
	r.table = table
	return r
}

// Alias sets the alias used inside the EXISTS subquery.
func (r *RelationDefinition) Alias(alias string) *RelationDefinition {
	r.alias = alias
	return r
}

// Join sets the join columns: local on the owning model, remote on the related table.
// It is required: rules filtering through a relation without join columns are rejected.
// For a belongs-to relation this is ("customer_id", "id"), for has-many ("id", "invoice_id").
func (r *RelationDefinition) Join(localColumn, remoteColumn string) *RelationDefinition {
	r.localColumn = localColumn
	r.remoteColumn = remoteColumn
	return r
}

// Fields adds related columns that rules may filter on.
func (r *RelationDefinition) Fields(columns ...string) *RelationDefinition {
	for _, c := range columns {
		r.fields[c] = struct{}{}
	}
	return r
}

// Relation continues defining relations on the owning model (fluent API).
func (r *RelationDefinition) Relation(name string) *RelationDefinition {
	return r.model.Relation(name)
}

// DefineModel continues defining models on the registry (fluent API).
func (r *RelationDefinition) DefineModel(name string) *ModelDefinition {
	return r.model.registry.DefineModel(name)
}

// Fingerprint sets the fingerprint of the owning model (fluent API).
func (r *RelationDefinition) Fingerprint(column string, kind FingerprintKind) *ModelDefinition {
	return r.model.Fingerprint(column, kind)
}

// HasField reports whether column is declared on the relation.
func (r *RelationDefinition) HasField(column string) bool {
	_, ok := r.fields[column]
	return ok
}

// Name returns the relation name.
func (r *RelationDefinition) Name() string { return r.name }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
