package laraplate

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// Migrations returns all PostgreSQL migrations required by laraplate.
// Use db.Migrate(ctx, laraplate.Migrations()) to run them.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "laraplate-001",
			Description: "Create permissions table",
			SQL: `
                CREATE TABLE IF NOT EXISTS permissions (
                    id BIGSERIAL PRIMARY KEY,
                    name VARCHAR(255) NOT NULL UNIQUE,
                    guard_name VARCHAR(64) NOT NULL DEFAULT 'web',
                    description TEXT,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "laraplate-002",
			Description: "Create roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS roles (
                    id BIGSERIAL PRIMARY KEY,
                    name VARCHAR(255) NOT NULL,
                    guard_name VARCHAR(64) NOT NULL DEFAULT 'web',
                    description TEXT,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    UNIQUE (name, guard_name)
                )`,
		},
		{
			ID:          "laraplate-003",
			Description: "Create role_has_permissions pivot",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_has_permissions (
                    role_id BIGINT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
                    permission_id BIGINT NOT NULL REFERENCES permissions (id) ON DELETE RESTRICT,
                    PRIMARY KEY (role_id, permission_id)
                )`,
		},
		{
			ID:          "laraplate-004",
			Description: "Create user_has_roles pivot",
			SQL: `
                CREATE TABLE IF NOT EXISTS user_has_roles (
                    user_id TEXT NOT NULL,
                    role_id BIGINT NOT NULL REFERENCES roles (id) ON DELETE CASCADE,
                    PRIMARY KEY (user_id, role_id)
                )`,
		},
		{
			ID:          "laraplate-005",
			Description: "Create acls table",
			SQL: `
                CREATE TABLE IF NOT EXISTS acls (
                    id BIGSERIAL PRIMARY KEY,
                    permission_id BIGINT NOT NULL UNIQUE REFERENCES permissions (id) ON DELETE RESTRICT,
                    filters TEXT NOT NULL,
                    sort TEXT,
                    description TEXT,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "laraplate-006",
			Description: "Index role grants by permission",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_role_has_permissions_permission ON role_has_permissions (permission_id)`,
		},
		{
			ID:          "laraplate-007",
			Description: "Index user roles by role",
			SQL:         `CREATE INDEX IF NOT EXISTS idx_user_has_roles_role ON user_has_roles (role_id)`,
		},
	}
}

// Migrations returns the migrations required by the service.
func (s *Service) Migrations() []dbkit.Migration {
	return Migrations()
}

// Migrate applies pending migrations on db and returns the ids applied by this call.
func Migrate(ctx context.Context, db *dbkit.DBKit) ([]string, error) {
	result, err := db.Migrate(ctx, Migrations())
	if err != nil {
		return nil, err
	}
	applied := make([]string, 0, len(result.Applied))
	for _, m := range result.Applied {
		applied = append(applied, m.ID)
	}
	return applied, nil
}
