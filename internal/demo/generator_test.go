package demo

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/askmesh/askmesh/internal/query"
	"github.com/askmesh/askmesh/internal/query/duckdb"
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	d1 := NewGenerator(42, 5, start).Generate(3)
	d2 := NewGenerator(42, 5, start).Generate(3)
	if !reflect.DeepEqual(d1, d2) {
		t.Fatal("same seed produced different data")
	}
	if len(d1.AdSales) != 15 || len(d1.TotalSales) != 15 || len(d1.Eligibility) != 5 {
		t.Fatalf("row counts = %d/%d/%d", len(d1.AdSales), len(d1.TotalSales), len(d1.Eligibility))
	}
}

func TestGeneratorRowsAreConsistent(t *testing.T) {
	data := NewGenerator(7, 20, start).Generate(10)
	for i, ad := range data.AdSales {
		if ad.Clicks > ad.Impressions {
			t.Fatalf("row %d: clicks %d > impressions %d", i, ad.Clicks, ad.Impressions)
		}
		if ad.Clicks == 0 && ad.AdSpend != 0 {
			t.Fatalf("row %d: spend without clicks", i)
		}
		total := data.TotalSales[i]
		if total.Date != ad.Date || total.ItemID != ad.ItemID {
			t.Fatalf("row %d: total sales row misaligned", i)
		}
		if total.TotalSales < ad.AdSales || total.TotalUnitsOrdered < ad.UnitsSold {
			t.Fatalf("row %d: total below ad attributed sales", i)
		}
	}
	if data.AdSales[len(data.AdSales)-1].Date != "2025-01-10" {
		t.Fatalf("last date = %s", data.AdSales[len(data.AdSales)-1].Date)
	}
}

func TestWriteFilesLoadsIntoDuckDB(t *testing.T) {
	for _, format := range []string{"csv", "parquet"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			data := NewGenerator(1, 3, start).Generate(2)
			paths, err := WriteFiles(dir, format, data)
			if err != nil {
				t.Fatalf("WriteFiles() error = %v", err)
			}
			if len(paths) != 3 {
				t.Fatalf("paths = %#v", paths)
			}

			dataset, err := duckdb.Open(context.Background(), duckdb.Config{Directory: dir})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer func() { _ = dataset.Close() }()

			result, err := dataset.Execute(context.Background(), query.Request{SQL: "SELECT COUNT(*) AS n FROM ad_sales_metrics"})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(result.Rows) != 1 || result.Rows[0][0] != int64(6) {
				t.Fatalf("rows = %#v", result.Rows)
			}
			count, err := duckdb.RowCount(context.Background(), dataset.DB(), "eligibility_table")
			if err != nil || count != 3 {
				t.Fatalf("RowCount() = %d, %v", count, err)
			}
		})
	}
}

func TestWriteFilesRejectsUnknownFormat(t *testing.T) {
	if _, err := WriteFiles(t.TempDir(), "json", Data{}); err == nil {
		t.Fatal("expected error")
	}
}
