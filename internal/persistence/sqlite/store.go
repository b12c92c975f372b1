// Package sqlite persists cell-state snapshots to a single SQLite
// table, one row per cell per snapshot step, with gene states flattened
// into gene_<name> boolean columns.
package sqlite

import (
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cellfoundry/tissue-simulator/model"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

var geneColumnPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Store writes cell records to a snapshot table whose gene columns are
// fixed at construction from the network's node names.
type Store struct {
	db          *sql.DB
	geneColumns []string
	insertStmt  string
}

// NewStore opens (or creates) the database at path and ensures the
// snapshot table exists with one gene_<name> column per gene. Gene
// names that cannot form a valid column identifier are rejected.
func NewStore(path string, geneNames []string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: empty path")
	}
	for _, name := range geneNames {
		if !geneColumnPattern.MatchString(name) {
			return nil, fmt.Errorf("sqlite store: gene name %q cannot form a column", name)
		}
	}
	genes := append([]string(nil), geneNames...)
	sort.Strings(genes)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	cols := []string{
		"step INTEGER NOT NULL",
		"cell_id TEXT NOT NULL",
		"x INTEGER NOT NULL",
		"y INTEGER NOT NULL",
		"z INTEGER NOT NULL",
		"phenotype TEXT NOT NULL",
		"age REAL NOT NULL",
		"division_count INTEGER NOT NULL",
	}
	for _, g := range genes {
		cols = append(cols, fmt.Sprintf("gene_%s INTEGER NOT NULL DEFAULT 0", g))
	}
	cols = append(cols, "PRIMARY KEY (step, cell_id)")

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS cell_snapshots (\n\t%s\n)", strings.Join(cols, ",\n\t"))
	if _, err := db.Exec(create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}

	names := []string{"step", "cell_id", "x", "y", "z", "phenotype", "age", "division_count"}
	for _, g := range genes {
		names = append(names, "gene_"+g)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert := fmt.Sprintf("INSERT OR REPLACE INTO cell_snapshots (%s) VALUES (%s)",
		strings.Join(names, ", "), placeholders)

	return &Store{db: db, geneColumns: genes, insertStmt: insert}, nil
}

// WriteSnapshot persists one batch of cell records in a single
// transaction. Gene states absent from a record default to false.
func (s *Store) WriteSnapshot(records []model.CellRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	stmt, err := tx.Prepare(s.insertStmt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		args := []any{
			rec.Step, rec.ID,
			rec.Position.X, rec.Position.Y, rec.Position.Z,
			rec.Phenotype, rec.Age, rec.DivisionCount,
		}
		for _, g := range s.geneColumns {
			args = append(args, boolToInt(rec.GeneStates[g]))
		}
		if _, err := stmt.Exec(args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert cell %s at step %d: %w", rec.ID, rec.Step, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads every cell record persisted for one step, sorted
// by cell id.
func (s *Store) ReadSnapshot(step int) ([]model.CellRecord, error) {
	names := []string{"step", "cell_id", "x", "y", "z", "phenotype", "age", "division_count"}
	for _, g := range s.geneColumns {
		names = append(names, "gene_"+g)
	}
	query := fmt.Sprintf("SELECT %s FROM cell_snapshots WHERE step = ? ORDER BY cell_id",
		strings.Join(names, ", "))

	rows, err := s.db.Query(query, step)
	if err != nil {
		return nil, fmt.Errorf("select snapshot step %d: %w", step, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CellRecord
	for rows.Next() {
		rec := model.CellRecord{GeneStates: make(map[string]bool, len(s.geneColumns))}
		dest := []any{
			&rec.Step, &rec.ID,
			&rec.Position.X, &rec.Position.Y, &rec.Position.Z,
			&rec.Phenotype, &rec.Age, &rec.DivisionCount,
		}
		geneVals := make([]int, len(s.geneColumns))
		for i := range geneVals {
			dest = append(dest, &geneVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		for i, g := range s.geneColumns {
			rec.GeneStates[g] = geneVals[i] != 0
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

// Steps lists the distinct snapshot steps present, ascending.
func (s *Store) Steps() ([]int, error) {
	rows, err := s.db.Query("SELECT DISTINCT step FROM cell_snapshots ORDER BY step")
	if err != nil {
		return nil, fmt.Errorf("select snapshot steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int
	for rows.Next() {
		var step int
		if err := rows.Scan(&step); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// GeneColumns returns the gene names the table carries, sorted.
func (s *Store) GeneColumns() []string {
	return append([]string(nil), s.geneColumns...)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
