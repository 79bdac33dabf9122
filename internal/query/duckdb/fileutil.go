package duckdb

import (
	"io"
	"os"
)

// writeFile copies reader into path and returns the number of bytes written.
func writeFile(path string, reader io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, reader)
	if err != nil {
		_ = file.Close()
		return written, err
	}
	return written, file.Close()
}
