package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DumpDir      = "dump"
	ArticlesDir  = "articles"
	CSVDir       = "csv"
	DatasetFile  = "dataset.csv"
	IDsCSVFile   = "PMC-ids.csv.gz"
	IDsDBFile    = "PMC-ids.db"
	ManifestFile = "downloaded-dump.txt"

	// Quarantine directories, under ArticlesDir.
	ExceptionsDir = "exceptions"
	WithoutIDDir  = "without-id"
)

// DumpPath returns the directory holding downloaded archives.
func DumpPath(root string) string {
	return filepath.Join(root, DumpDir)
}

// ArticlesPath returns the directory holding split article documents.
func ArticlesPath(root string) string {
	return filepath.Join(root, ArticlesDir)
}

// CSVPath returns the directory holding shards and the final table.
func CSVPath(root string) string {
	return filepath.Join(root, CSVDir)
}

// DatasetPath returns the path to the final table.
func DatasetPath(root string) string {
	return filepath.Join(root, CSVDir, DatasetFile)
}

// IDsCSVPath returns the path to the downloaded PMC-ids dataset.
func IDsCSVPath(root string) string {
	return filepath.Join(root, IDsCSVFile)
}

// IDsDBPath returns the path to the identifier table cache.
func IDsDBPath(root string) string {
	return filepath.Join(root, IDsDBFile)
}

// ManifestPath returns the path to the index of split archives.
func ManifestPath(root string) string {
	return filepath.Join(root, ManifestFile)
}

// ExceptionsPath returns the quarantine directory for unprocessable documents.
func ExceptionsPath(root string) string {
	return filepath.Join(root, ArticlesDir, ExceptionsDir)
}

// WithoutIDPath returns the quarantine directory for documents with no identifier.
func WithoutIDPath(root string) string {
	return filepath.Join(root, ArticlesDir, WithoutIDDir)
}

// EnsureLayout creates the dump, articles and csv directories under root.
func EnsureLayout(root string) error {
	for _, dir := range []string{DumpPath(root), ArticlesPath(root), CSVPath(root)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
