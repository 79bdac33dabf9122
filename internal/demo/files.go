package demo

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

var (
	adSalesHeader     = []string{"date", "item_id", "ad_sales", "impressions", "ad_spend", "clicks", "units_sold"}
	totalSalesHeader  = []string{"date", "item_id", "total_sales", "total_units_ordered"}
	eligibilityHeader = []string{"eligibility_datetime_utc", "item_id", "eligibility", "message"}
)

type recorder interface {
	record() []string
}

// WriteFiles writes one file per table into dir and returns their paths.
// Format is csv or parquet.
func WriteFiles(dir, format string, data Data) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	paths := []string{
		filepath.Join(dir, "ad_sales_metrics."+format),
		filepath.Join(dir, "total_sales_metrics."+format),
		filepath.Join(dir, "eligibility_table."+format),
	}

	var err error
	switch format {
	case "csv":
		err = firstErr(
			writeCSV(paths[0], adSalesHeader, data.AdSales),
			writeCSV(paths[1], totalSalesHeader, data.TotalSales),
			writeCSV(paths[2], eligibilityHeader, data.Eligibility),
		)
	case "parquet":
		err = firstErr(
			writeParquet(paths[0], data.AdSales),
			writeParquet(paths[1], data.TotalSales),
			writeParquet(paths[2], data.Eligibility),
		)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func writeCSV[T recorder](path string, header []string, rows []T) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, row := range rows {
		if err := writer.Write(row.record()); err != nil {
			_ = file.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = file.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return file.Close()
}

func writeParquet[T any](path string, rows []T) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("close parquet writer %s: %w", path, err)
	}
	return file.Close()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
