package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// DatasetPrefix is where uploaded dataset files live in the object store.
const DatasetPrefix = "datasets/"

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// DatasetFormat reports the file format of a dataset key by extension.
// The second return value is false for unsupported files.
func DatasetFormat(key string) (string, bool) {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "csv", true
	case ".parquet":
		return "parquet", true
	default:
		return "", false
	}
}

// TableNameFromKey derives a table name from a dataset file key:
// "datasets/ad_sales_metrics.parquet" becomes "ad_sales_metrics".
func TableNameFromKey(key string) (string, error) {
	base := path.Base(strings.ReplaceAll(key, `\`, "/"))
	name := strings.TrimSuffix(base, path.Ext(base))
	name = strings.ReplaceAll(name, "-", "_")
	if err := ValidateTableName(name); err != nil {
		return "", err
	}
	return name, nil
}

// BuildDatasetKey is the inverse of TableNameFromKey for uploads.
func BuildDatasetKey(tableName, format string) (string, error) {
	if err := ValidateTableName(tableName); err != nil {
		return "", err
	}
	switch format {
	case "csv", "parquet":
	default:
		return "", fmt.Errorf("unsupported dataset format %q", format)
	}
	return DatasetPrefix + tableName + "." + format, nil
}

func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name: %q", name)
	}
	return nil
}
