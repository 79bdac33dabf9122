package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/askmesh/askmesh/internal/config"
	"github.com/askmesh/askmesh/internal/demo"
	duckdbdataset "github.com/askmesh/askmesh/internal/query/duckdb"
	"github.com/askmesh/askmesh/internal/query/sqldb"
	"github.com/askmesh/askmesh/internal/storage"
	s3store "github.com/askmesh/askmesh/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("askmesh-load")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	dir := flag.String("dir", firstNonEmpty(cfg.Dataset.Directory, "data"), "directory of csv/parquet files to load")
	dsn := flag.String("db", cfg.Dataset.DSN, "duckdb database file to load into")
	fromStore := flag.Bool("from-store", false, "load dataset files from the object store instead of -dir")
	upload := flag.Bool("upload", false, "upload the files in -dir to the object store before loading")
	generateDays := flag.Int("generate-days", 0, "write N days of generated sample data into -dir before loading")
	seed := flag.Int64("seed", 1, "random seed for generated sample data")
	items := flag.Int("items", 25, "number of items in generated sample data")
	format := flag.String("format", "csv", "file format for generated sample data (csv or parquet)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *generateDays > 0 {
		data := demo.NewGenerator(*seed, *items, time.Now().UTC().AddDate(0, 0, -*generateDays)).Generate(*generateDays)
		paths, err := demo.WriteFiles(*dir, *format, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate error: %v\n", err)
			os.Exit(1)
		}
		for _, path := range paths {
			fmt.Printf("generated %s\n", path)
		}
	}

	var store storage.ObjectStore
	if *fromStore || *upload {
		store, err = s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: *upload,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "object store error: %v\n", err)
			os.Exit(1)
		}
	}

	var sources []duckdbdataset.Source
	if *fromStore {
		workDir, err := os.MkdirTemp("", "askmesh-load-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "work dir error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = os.RemoveAll(workDir) }()
		keys, err := duckdbdataset.ParseObjectKeys(cfg.Dataset.ObjectKeys)
		if err != nil {
			fmt.Fprintf(os.Stderr, "object keys error: %v\n", err)
			os.Exit(1)
		}
		sources, err = duckdbdataset.Fetch(ctx, store, keys, storage.DatasetPrefix, workDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch error: %v\n", err)
			os.Exit(1)
		}
	} else {
		sources, err = duckdbdataset.DiscoverDir(*dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discover error: %v\n", err)
			os.Exit(1)
		}
		if *upload {
			keys, err := duckdbdataset.Upload(ctx, store, sources)
			if err != nil {
				fmt.Fprintf(os.Stderr, "upload error: %v\n", err)
				os.Exit(1)
			}
			for _, key := range keys {
				fmt.Printf("uploaded %s\n", key)
			}
		}
	}
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "no csv or parquet files found")
		os.Exit(1)
	}

	db, err := sqldb.Open(ctx, sqldb.Config{Driver: "duckdb", DSN: *dsn, MaxOpenConns: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := duckdbdataset.Attach(ctx, db, sources, duckdbdataset.ModeTable); err != nil {
		fmt.Fprintf(os.Stderr, "load error: %v\n", err)
		os.Exit(1)
	}
	for _, source := range sources {
		count, err := duckdbdataset.RowCount(ctx, db, source.Table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %d rows\n", source.Table, count)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
