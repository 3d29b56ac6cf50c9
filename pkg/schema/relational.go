package schema

import (
	"context"
	"fmt"

	"github.com/askdb-io/askdb-engine/pkg/pool"
)

// detectPostgres introspects every non-system base table via the
// information schema, ordinal-position ordered columns included.
func (d *Detector) detectPostgres(ctx context.Context, h *pool.Handle) ([]Table, error) {
	const tableQuery = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY table_schema, table_name
	`

	rows, err := h.PG.Query(ctx, tableQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	type tableRef struct{ schema, name string }
	var refs []tableRef
	for rows.Next() {
		var r tableRef
		if err := rows.Scan(&r.schema, &r.name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	tables := make([]Table, 0, len(refs))
	for _, r := range refs {
		t, err := d.inspectPostgresTable(ctx, h, r.schema, r.name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (d *Detector) inspectPostgresTable(ctx context.Context, h *pool.Handle, schemaName, tableName string) (Table, error) {
	t := Table{QualifiedTable: schemaName + "." + tableName}

	const columnQuery = `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := h.PG.Query(ctx, columnQuery, schemaName, tableName)
	if err != nil {
		return Table{}, fmt.Errorf("query columns for %s: %w", t.QualifiedTable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return Table{}, fmt.Errorf("scan column: %w", err)
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate columns: %w", err)
	}

	const pkQuery = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`
	pkRows, err := h.PG.Query(ctx, pkQuery, schemaName, tableName)
	if err != nil {
		return Table{}, fmt.Errorf("query primary key for %s: %w", t.QualifiedTable, err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			return Table{}, fmt.Errorf("scan primary key: %w", err)
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}
	if err := pkRows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate primary key: %w", err)
	}

	const fkQuery = `
		SELECT tc.constraint_name, kcu.column_name,
		       ccu.table_schema || '.' || ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
	`
	fkRows, err := h.PG.Query(ctx, fkQuery, schemaName, tableName)
	if err != nil {
		return Table{}, fmt.Errorf("query foreign keys for %s: %w", t.QualifiedTable, err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fk ForeignKey
		if err := fkRows.Scan(&fk.ConstraintName, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return Table{}, fmt.Errorf("scan foreign key: %w", err)
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	if err := fkRows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return t, nil
}

// detectMySQL introspects base tables in the connected database via the
// information schema. DATABASE() scopes every query to the URL's database.
func (d *Detector) detectMySQL(ctx context.Context, h *pool.Handle) ([]Table, error) {
	const tableQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := h.MySQL.QueryContext(ctx, tableQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t, err := d.inspectMySQLTable(ctx, h, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (d *Detector) inspectMySQLTable(ctx context.Context, h *pool.Handle, tableName string) (Table, error) {
	t := Table{QualifiedTable: tableName}

	const columnQuery = `
		SELECT column_name, data_type, is_nullable = 'YES', column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position
	`
	rows, err := h.MySQL.QueryContext(ctx, columnQuery, tableName)
	if err != nil {
		return Table{}, fmt.Errorf("query columns for %s: %w", tableName, err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Column
		var isPK bool
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &isPK); err != nil {
			return Table{}, fmt.Errorf("scan column: %w", err)
		}
		t.Columns = append(t.Columns, c)
		if isPK {
			t.PrimaryKey = append(t.PrimaryKey, c.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate columns: %w", err)
	}

	const fkQuery = `
		SELECT constraint_name, column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ?
		  AND referenced_table_name IS NOT NULL
		ORDER BY ordinal_position
	`
	fkRows, err := h.MySQL.QueryContext(ctx, fkQuery, tableName)
	if err != nil {
		return Table{}, fmt.Errorf("query foreign keys for %s: %w", tableName, err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fk ForeignKey
		if err := fkRows.Scan(&fk.ConstraintName, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return Table{}, fmt.Errorf("scan foreign key: %w", err)
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	if err := fkRows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return t, nil
}
