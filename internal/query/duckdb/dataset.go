package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/askmesh/askmesh/internal/query/sqldb"
	"github.com/askmesh/askmesh/internal/storage"
)

// Source is one dataset file attached as a table.
type Source struct {
	Table  string
	Path   string
	Format string
}

type Mode int

const (
	// ModeView leaves data in the files and reads them on every query.
	ModeView Mode = iota
	// ModeTable copies file contents into the database.
	ModeTable
)

type Config struct {
	DSN       string
	Directory string
	// Store and ObjectKeys attach files from an object store. When
	// ObjectKeys is empty every dataset file under Prefix is attached.
	Store      storage.ObjectStore
	ObjectKeys map[string]string
	Prefix     string
	Pool       sqldb.Config
}

// Dataset is a DuckDB database with csv and parquet files attached as
// views. Object store files are downloaded to a private work directory that
// lives as long as the Dataset.
type Dataset struct {
	*sqldb.Engine
	db      *sql.DB
	workDir string
	tables  []string
}

func Open(ctx context.Context, cfg Config) (*Dataset, error) {
	pool := cfg.Pool
	pool.Driver = "duckdb"
	pool.DSN = cfg.DSN
	db, err := sqldb.Open(ctx, pool)
	if err != nil {
		return nil, err
	}
	dataset := &Dataset{Engine: sqldb.NewEngine(db, "duckdb"), db: db}

	var sources []Source
	if strings.TrimSpace(cfg.Directory) != "" {
		local, err := DiscoverDir(cfg.Directory)
		if err != nil {
			_ = dataset.Close()
			return nil, err
		}
		sources = append(sources, local...)
	}
	if cfg.Store != nil {
		workDir, err := os.MkdirTemp("", "askmesh-dataset-")
		if err != nil {
			_ = dataset.Close()
			return nil, fmt.Errorf("create dataset work dir: %w", err)
		}
		dataset.workDir = workDir
		fetched, err := Fetch(ctx, cfg.Store, cfg.ObjectKeys, cfg.Prefix, workDir)
		if err != nil {
			_ = dataset.Close()
			return nil, err
		}
		sources = append(sources, fetched...)
	}

	if err := Attach(ctx, db, sources, ModeView); err != nil {
		_ = dataset.Close()
		return nil, err
	}
	for _, source := range sources {
		dataset.tables = append(dataset.tables, source.Table)
	}
	return dataset, nil
}

// Tables returns the names of the attached tables.
func (d *Dataset) Tables() []string {
	return append([]string(nil), d.tables...)
}

func (d *Dataset) Close() error {
	var closeErr error
	if d.db != nil {
		closeErr = d.db.Close()
	}
	if d.workDir != "" {
		_ = os.RemoveAll(d.workDir)
	}
	return closeErr
}

// DiscoverDir returns one Source per csv or parquet file directly inside dir.
func DiscoverDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var sources []Source
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, ok := storage.DatasetFormat(entry.Name())
		if !ok {
			continue
		}
		table, err := storage.TableNameFromKey(entry.Name())
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{Table: table, Path: filepath.Join(dir, entry.Name()), Format: format})
	}
	return sources, nil
}

// Fetch downloads dataset files from store into workDir. keys maps table
// names to object keys; when empty, every dataset file under prefix is used.
func Fetch(ctx context.Context, store storage.ObjectStore, keys map[string]string, prefix, workDir string) ([]Source, error) {
	if len(keys) == 0 {
		objects, err := store.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		keys = map[string]string{}
		for _, object := range objects {
			if _, ok := storage.DatasetFormat(object.Key); !ok {
				continue
			}
			table, err := storage.TableNameFromKey(object.Key)
			if err != nil {
				return nil, err
			}
			keys[table] = object.Key
		}
	}

	tables := make([]string, 0, len(keys))
	for table := range keys {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	sources := make([]Source, 0, len(tables))
	for _, table := range tables {
		key := keys[table]
		if err := storage.ValidateTableName(table); err != nil {
			return nil, err
		}
		format, ok := storage.DatasetFormat(key)
		if !ok {
			return nil, fmt.Errorf("object %q is not a csv or parquet file", key)
		}
		info, err := store.Stat(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("stat object %q for table %q: %w", key, table, err)
		}
		reader, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get object %q: %w", key, err)
		}
		localPath := filepath.Join(workDir, table+"."+format)
		written, err := writeFile(localPath, reader)
		if err != nil {
			_ = reader.Close()
			return nil, fmt.Errorf("write local dataset file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return nil, fmt.Errorf("close object %q: %w", key, err)
		}
		if written != info.Size {
			return nil, fmt.Errorf("incomplete download of %q: got %d bytes, want %d", key, written, info.Size)
		}
		sources = append(sources, Source{Table: table, Path: localPath, Format: format})
	}
	return sources, nil
}

// Attach exposes every source as a view or table named after it.
func Attach(ctx context.Context, db *sql.DB, sources []Source, mode Mode) error {
	kind := "VIEW"
	if mode == ModeTable {
		kind = "TABLE"
	}
	for _, source := range sources {
		reader, err := readerExpr(source)
		if err != nil {
			return err
		}
		statement := fmt.Sprintf(`CREATE OR REPLACE %s %s AS SELECT * FROM %s`, kind, sqldb.QuoteIdent(source.Table), reader)
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("attach table %q: %w", source.Table, err)
		}
	}
	return nil
}

// RowCount returns the number of rows in table.
func RowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var count int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, sqldb.QuoteIdent(table))).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %q: %w", table, err)
	}
	return count, nil
}

func readerExpr(source Source) (string, error) {
	switch source.Format {
	case "csv":
		return fmt.Sprintf("read_csv_auto(%s)", quoteString(source.Path)), nil
	case "parquet":
		return fmt.Sprintf("read_parquet(%s)", quoteString(source.Path)), nil
	default:
		return "", fmt.Errorf("unsupported dataset format %q for table %q", source.Format, source.Table)
	}
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

// ParseObjectKeys parses "table=key,table=key" into a map.
func ParseObjectKeys(spec string) (map[string]string, error) {
	keys := map[string]string{}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		table, key, ok := strings.Cut(entry, "=")
		table = strings.TrimSpace(table)
		key = strings.TrimSpace(key)
		if !ok || table == "" || key == "" {
			return nil, fmt.Errorf("invalid object key entry %q: expected table=key", entry)
		}
		if err := storage.ValidateTableName(table); err != nil {
			return nil, err
		}
		keys[table] = key
	}
	return keys, nil
}

// Upload copies local sources into store under storage.DatasetPrefix and
// returns the keys written, in source order.
func Upload(ctx context.Context, store storage.ObjectStore, sources []Source) ([]string, error) {
	keys := make([]string, 0, len(sources))
	for _, source := range sources {
		key, err := storage.BuildDatasetKey(source.Table, source.Format)
		if err != nil {
			return nil, err
		}
		if err := uploadFile(ctx, store, key, source); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func uploadFile(ctx context.Context, store storage.ObjectStore, key string, source Source) error {
	file, err := os.Open(source.Path)
	if err != nil {
		return fmt.Errorf("open dataset file: %w", err)
	}
	defer func() { _ = file.Close() }()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat dataset file: %w", err)
	}
	contentType := "text/csv"
	if source.Format == "parquet" {
		contentType = "application/vnd.apache.parquet"
	}
	if _, err := store.Put(ctx, key, file, info.Size(), storage.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload %q: %w", key, err)
	}
	return nil
}
