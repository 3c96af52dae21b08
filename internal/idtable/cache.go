package idtable

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNoSource is returned when neither the cache nor the CSV dataset exists.
var ErrNoSource = errors.New("identifier dataset not found")

// Cache is the SQLite persistence of a built Table.
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS by_pmid (
			pmid INTEGER PRIMARY KEY,
			pmcid TEXT,
			doi TEXT
		);

		CREATE TABLE IF NOT EXISTS by_pmcid (
			pmcid TEXT PRIMARY KEY,
			pmid INTEGER,
			doi TEXT
		);
	`

	_, err := db.Exec(schema)
	return err
}

// Save replaces the cache contents with t in a single transaction.
func (c *Cache) Save(t *Table) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM by_pmid"); err != nil {
		return fmt.Errorf("clearing by_pmid: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM by_pmcid"); err != nil {
		return fmt.Errorf("clearing by_pmcid: %w", err)
	}

	pmidStmt, err := tx.Prepare("INSERT OR REPLACE INTO by_pmid (pmid, pmcid, doi) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing by_pmid insert: %w", err)
	}
	defer pmidStmt.Close()

	pmcidStmt, err := tx.Prepare("INSERT OR REPLACE INTO by_pmcid (pmcid, pmid, doi) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing by_pmcid insert: %w", err)
	}
	defer pmcidStmt.Close()

	for pmid, r := range t.byPMID {
		if _, err := pmidStmt.Exec(pmid, nullString(r.PMCID), nullString(r.DOI)); err != nil {
			return fmt.Errorf("inserting pmid %d: %w", pmid, err)
		}
	}
	for pmcid, r := range t.byPMCID {
		if _, err := pmcidStmt.Exec(pmcid, nullInt(r.PMID), nullString(r.DOI)); err != nil {
			return fmt.Errorf("inserting pmcid %s: %w", pmcid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache: %w", err)
	}
	return nil
}

// Load reads the cached table.
func (c *Cache) Load() (*Table, error) {
	t := &Table{
		byPMID:  make(map[int64]Record),
		byPMCID: make(map[string]Record),
	}

	rows, err := c.db.Query("SELECT pmid, pmcid, doi FROM by_pmid")
	if err != nil {
		return nil, fmt.Errorf("querying by_pmid: %w", err)
	}
	for rows.Next() {
		var pmid int64
		var pmcid, doi sql.NullString
		if err := rows.Scan(&pmid, &pmcid, &doi); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning by_pmid: %w", err)
		}
		t.byPMID[pmid] = Record{PMID: pmid, PMCID: pmcid.String, DOI: doi.String}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating by_pmid: %w", err)
	}
	rows.Close()

	rows, err = c.db.Query("SELECT pmcid, pmid, doi FROM by_pmcid")
	if err != nil {
		return nil, fmt.Errorf("querying by_pmcid: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pmcid string
		var pmid sql.NullInt64
		var doi sql.NullString
		if err := rows.Scan(&pmcid, &pmid, &doi); err != nil {
			return nil, fmt.Errorf("scanning by_pmcid: %w", err)
		}
		t.byPMCID[pmcid] = Record{PMID: pmid.Int64, PMCID: pmcid, DOI: doi.String}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating by_pmcid: %w", err)
	}

	return t, nil
}

// Count returns the number of rows in each view.
func (c *Cache) Count() (pmids, pmcids int, err error) {
	if err := c.db.QueryRow("SELECT COUNT(*) FROM by_pmid").Scan(&pmids); err != nil {
		return 0, 0, fmt.Errorf("counting by_pmid: %w", err)
	}
	if err := c.db.QueryRow("SELECT COUNT(*) FROM by_pmcid").Scan(&pmcids); err != nil {
		return 0, 0, fmt.Errorf("counting by_pmcid: %w", err)
	}
	return pmids, pmcids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}

// ReadFile builds a Table from a PMC-ids CSV file, gzip-compressed when the
// name ends in ".gz".
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSource, path)
		}
		return nil, fmt.Errorf("opening identifier dataset: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	records, err := ReadRecords(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return New(records), nil
}

// LoadResult reports how a table was obtained.
type LoadResult struct {
	Table     *Table
	FromCache bool
}

// LoadOrBuild returns the cached table at dbPath when present, otherwise
// builds it from csvPath and writes the cache. force rebuilds unconditionally.
func LoadOrBuild(csvPath, dbPath string, force bool, logger *zap.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !force {
		if _, err := os.Stat(dbPath); err == nil {
			cache, err := OpenCache(dbPath)
			if err != nil {
				return nil, err
			}
			defer cache.Close()

			t, err := cache.Load()
			if err != nil {
				return nil, fmt.Errorf("loading identifier cache: %w", err)
			}
			pmids, pmcids := t.Len()
			logger.Info("loaded identifier table from cache",
				zap.String("path", dbPath), zap.Int("pmids", pmids), zap.Int("pmcids", pmcids))
			return &LoadResult{Table: t, FromCache: true}, nil
		}
	}

	t, err := ReadFile(csvPath)
	if err != nil {
		return nil, err
	}

	if force {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale cache: %w", err)
		}
	}
	tmpPath := dbPath + ".tmp"
	os.Remove(tmpPath)
	cache, err := OpenCache(tmpPath)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(t); err != nil {
		cache.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing identifier cache: %w", err)
	}
	if err := cache.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing identifier cache: %w", err)
	}
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return nil, fmt.Errorf("installing identifier cache: %w", err)
	}

	pmids, pmcids := t.Len()
	logger.Info("built identifier table",
		zap.String("source", csvPath), zap.Int("pmids", pmids), zap.Int("pmcids", pmcids))
	return &LoadResult{Table: t}, nil
}
