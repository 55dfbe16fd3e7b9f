package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Schema is an immutable, engine-neutral snapshot of a database's structure
// at the moment of extraction.
type Schema struct {
	Engine       EngineKind
	DatabaseName string
	Namespaces   []string
	Tables       []Table
}

// Table describes one table (relational) or collection (document).
type Table struct {
	Namespace   string
	Name        string
	Comment     string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Column describes a single table column or document field path.
type Column struct {
	Name         string
	TypeName     string
	Size         int
	Nullable     bool
	DefaultValue string
	Comment      string
	Ordinal      int
}

// ForeignKey maps a column onto its referenced table and column.
// Heuristic marks relationships inferred from naming conventions rather
// than declared constraints; downstream consumers may discount them.
type ForeignKey struct {
	Column       string
	RefNamespace string
	RefTable     string
	RefColumn    string
	Heuristic    bool
}

// Index describes a secondary index on a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ID returns the canonical table identifier: "namespace.name" for relational
// tables, the bare collection name for document collections.
func (t *Table) ID() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// RefID returns the canonical identifier of the referenced table.
func (fk *ForeignKey) RefID() string {
	if fk.RefNamespace == "" {
		return fk.RefTable
	}
	return fk.RefNamespace + "." + fk.RefTable
}

// Render produces the canonical natural-language rendering of the table used
// as embedding text and prompt context.
func (t *Table) Render() string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(t.ID())
	if t.Comment != "" {
		b.WriteString(" - ")
		b.WriteString(t.Comment)
	}
	b.WriteString(". Columns: ")
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s (%s)", c.Name, c.TypeName)
		if c.Comment != "" {
			col += " - " + c.Comment
		}
		cols = append(cols, col)
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(".")
	if len(t.ForeignKeys) > 0 {
		b.WriteString(" Relationships: ")
		rels := make([]string, 0, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			rels = append(rels, fmt.Sprintf("%s references %s.%s", fk.Column, fk.RefID(), fk.RefColumn))
		}
		b.WriteString(strings.Join(rels, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// TableByID looks up a table by its canonical identifier.
func (s *Schema) TableByID(id string) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].ID() == id {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TablesByName returns every table whose bare name matches, ignoring case.
// More than one match means the name is ambiguous across namespaces.
func (s *Schema) TablesByName(name string) []*Table {
	var out []*Table
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			out = append(out, &s.Tables[i])
		}
	}
	return out
}

// SortedTableIDs returns every canonical table identifier in lexical order.
func (s *Schema) SortedTableIDs() []string {
	ids := make([]string, 0, len(s.Tables))
	for i := range s.Tables {
		ids = append(ids, s.Tables[i].ID())
	}
	sort.Strings(ids)
	return ids
}
