// Package schema implements Schema Introspection & Compatibility (C11):
// deriving the expected table shape for a registered family, diffing it
// against what the remote collaborator reports, and applying additive-only
// migrations. Grounded on the teacher's goose-managed migration convention
// (internal/sync/migrations.go), generalized from fixed local-DB migrations
// to a diff-and-apply model against a remote-reported shape.
package schema

import (
	"context"
	"fmt"
)

// ColumnType names the wire type of one declared property.
type ColumnType string

const (
	TypeUUID      ColumnType = "uuid"
	TypeString    ColumnType = "string"
	TypeInt       ColumnType = "int"
	TypeFloat     ColumnType = "float"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
)

// Column describes one expected table column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  string
}

// requiredColumns are present on every registered family regardless of its
// declared properties.
var requiredColumns = []Column{
	{Name: "sync_id", Type: TypeUUID},
	{Name: "last_modified", Type: TypeTimestamp},
	{Name: "last_synced", Type: TypeTimestamp, Nullable: true},
	{Name: "is_deleted", Type: TypeBool, Default: "false"},
	{Name: "version", Type: TypeInt, Default: "1"},
}

// FamilyDescriptor is the registration-time declaration of one entity
// family: its name and the syncable properties beyond the required columns.
type FamilyDescriptor struct {
	Name       string
	Properties []Column
}

// DeriveExpected returns the full expected table shape for a family:
// required columns plus its declared properties.
func DeriveExpected(desc FamilyDescriptor) []Column {
	cols := make([]Column, 0, len(requiredColumns)+len(desc.Properties))
	cols = append(cols, requiredColumns...)
	cols = append(cols, desc.Properties...)

	return cols
}

// DifferenceType classifies one schema divergence.
type DifferenceType string

const (
	DiffFieldAdded     DifferenceType = "field_added"
	DiffFieldRemoved   DifferenceType = "field_removed"
	DiffTypeChanged    DifferenceType = "type_changed"
	DiffIndexMissing   DifferenceType = "index_missing"
)

// SchemaDifference is one typed divergence between expected and remote
// shape.
type SchemaDifference struct {
	Type DifferenceType
	Name string
	Detail string
}

// RemoteSchemaReader reports the remote collaborator's current column set
// for a family.
type RemoteSchemaReader interface {
	RemoteColumns(ctx context.Context, family string) ([]Column, error)
}

// RemoteSchemaWriter applies additive remote schema changes.
type RemoteSchemaWriter interface {
	AddColumn(ctx context.Context, family string, col Column) error
	AddIndex(ctx context.Context, family string, columns []string) error
}

// CheckCompatibility diffs expected against the remote-reported shape.
func CheckCompatibility(ctx context.Context, reader RemoteSchemaReader, desc FamilyDescriptor) ([]SchemaDifference, error) {
	remoteCols, err := reader.RemoteColumns(ctx, desc.Name)
	if err != nil {
		return nil, fmt.Errorf("schema: read remote columns for %s: %w", desc.Name, err)
	}

	remoteByName := make(map[string]Column, len(remoteCols))
	for _, c := range remoteCols {
		remoteByName[c.Name] = c
	}

	expected := DeriveExpected(desc)
	expectedByName := make(map[string]struct{}, len(expected))

	var diffs []SchemaDifference

	for _, c := range expected {
		expectedByName[c.Name] = struct{}{}

		remote, ok := remoteByName[c.Name]
		if !ok {
			diffs = append(diffs, SchemaDifference{Type: DiffFieldAdded, Name: c.Name, Detail: "expected column missing remotely"})
			continue
		}

		if remote.Type != c.Type {
			diffs = append(diffs, SchemaDifference{
				Type: DiffTypeChanged, Name: c.Name,
				Detail: fmt.Sprintf("expected %s, remote reports %s", c.Type, remote.Type),
			})
		}
	}

	for name := range remoteByName {
		if _, ok := expectedByName[name]; !ok {
			diffs = append(diffs, SchemaDifference{Type: DiffFieldRemoved, Name: name, Detail: "remote column not declared locally"})
		}
	}

	return diffs, nil
}

// MigrateSchema applies additive-only differences (field_added,
// index_missing). Destructive differences (field_removed, type_changed) are
// reported as non-applicable and require explicit operator confirmation —
// this function never applies them.
func MigrateSchema(ctx context.Context, writer RemoteSchemaWriter, desc FamilyDescriptor, diffs []SchemaDifference) (applied, rejected []SchemaDifference, err error) {
	expected := DeriveExpected(desc)
	byName := make(map[string]Column, len(expected))
	for _, c := range expected {
		byName[c.Name] = c
	}

	for _, d := range diffs {
		switch d.Type {
		case DiffFieldAdded:
			col, ok := byName[d.Name]
			if !ok {
				rejected = append(rejected, d)
				continue
			}

			if err := writer.AddColumn(ctx, desc.Name, col); err != nil {
				return applied, rejected, fmt.Errorf("schema: add column %s: %w", d.Name, err)
			}

			applied = append(applied, d)

		case DiffIndexMissing:
			if err := writer.AddIndex(ctx, desc.Name, []string{d.Name}); err != nil {
				return applied, rejected, fmt.Errorf("schema: add index %s: %w", d.Name, err)
			}

			applied = append(applied, d)

		default:
			rejected = append(rejected, d) // destructive, requires operator confirmation
		}
	}

	return applied, rejected, nil
}

// GenerateMigrationSQL renders the additive differences as SQL DDL
// statements a caller may review before applying, mirroring the teacher's
// goose-based migration file convention.
func GenerateMigrationSQL(familyTable string, diffs []SchemaDifference, expected []Column) []string {
	byName := make(map[string]Column, len(expected))
	for _, c := range expected {
		byName[c.Name] = c
	}

	var stmts []string

	for _, d := range diffs {
		if d.Type != DiffFieldAdded {
			continue
		}

		col, ok := byName[d.Name]
		if !ok {
			continue
		}

		nullability := "NOT NULL"
		if col.Nullable {
			nullability = "NULL"
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s %s", familyTable, col.Name, sqlType(col.Type), nullability)
		if col.Default != "" {
			stmt += fmt.Sprintf(" DEFAULT %s", col.Default)
		}

		stmts = append(stmts, stmt+";")
	}

	return stmts
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeUUID, TypeString:
		return "TEXT"
	case TypeInt, TypeTimestamp:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}
