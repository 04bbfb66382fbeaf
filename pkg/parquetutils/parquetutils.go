// Package parquetutils encodes and decodes parquet files held in memory.
package parquetutils

import (
	"github.com/cockroachdb/errors"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// Concurrency is the number of parallel row group readers and writers.
var Concurrency int64 = 4

// WriteAll encodes rows into a parquet file. T must carry parquet struct tags.
func WriteAll[T any](rows []T) ([]byte, error) {
	buf := NewBuffer()
	w, err := writer.NewParquetWriter(buf, new(T), Concurrency)
	if err != nil {
		return nil, errors.Wrap(err, "can't create parquet writer")
	}
	for i := range rows {
		if err := w.Write(rows[i]); err != nil {
			return nil, errors.Wrapf(err, "write parquet row %d", i)
		}
	}
	if err := w.WriteStop(); err != nil {
		return nil, errors.Wrap(err, "flush parquet file")
	}
	return buf.Bytes(), nil
}

// ReadAll reads all records from the parquet file.
func ReadAll[T any](sourceFile source.ParquetFile) ([]T, error) {
	r, err := reader.NewParquetReader(sourceFile, new(T), Concurrency)
	if err != nil {
		return nil, errors.Wrap(err, "can't create parquet reader")
	}
	defer r.ReadStop()

	data := make([]T, r.GetNumRows())
	if err = r.Read(&data); err != nil {
		return nil, errors.Wrap(err, "failed to read parquet data")
	}
	return data, nil
}
