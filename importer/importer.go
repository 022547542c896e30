// Package importer provides functionality to import hourly readings from CSV files.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/z0rr0/wattcast/databaser"
	"github.com/z0rr0/wattcast/series"
)

const chunkSize = 250

// ErrHeader is returned when a CSV file lacks a required column.
var ErrHeader = errors.New("invalid csv header")

type importReader struct {
	db     *databaser.DB
	reader io.Reader
	err    error
}

// ImportCSV imports readings from a CSV file into the database.
// The header must contain the datetime and target columns, other dataset columns are optional.
// Timestamps are wall-clock times without an offset, as the dataset index has them.
func ImportCSV(db *databaser.DB, importPath string, timeout time.Duration) (int, error) {
	f, err := os.Open(importPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Error("failed to close import file", "error", closeErr)
		}
	}()

	r := &importReader{db: db, reader: f}
	return r.InsertReadings(context.Background(), timeout)
}

// parseHeader maps column names to record positions.
// The first column is the timestamp even when it is unnamed, as pandas writes an index.
func parseHeader(record []string) (map[string]int, error) {
	header := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if i == 0 && name == "" {
			name = databaser.DateTimeColumn
		}
		header[name] = i
	}

	for _, name := range []string{databaser.DateTimeColumn, series.GlobalActivePower} {
		if _, ok := header[name]; !ok {
			return nil, fmt.Errorf("%w: no %q column", ErrHeader, name)
		}
	}

	return header, nil
}

// Read reads readings from the CSV file and yields them as a sequence.
func (r *importReader) Read() iter.Seq[*databaser.Reading] {
	return func(yield func(*databaser.Reading) bool) {
		csvReader := csv.NewReader(r.reader)
		csvReader.FieldsPerRecord = -1

		headerRecord, err := csvReader.Read()
		if err != nil {
			r.err = fmt.Errorf("header read: %w", err)
			return
		}

		header, err := parseHeader(headerRecord)
		if err != nil {
			r.err = err
			return
		}

		i := 1
		for {
			record, err := csvReader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				r.err = fmt.Errorf("csv read line %d: %w", i, err)
				return
			}

			reading, err := databaser.NewReadingFromCSVRecord(header, record)
			if err != nil {
				r.err = fmt.Errorf("parse record %v: %w", record, err)
				return
			}

			if reading.OtherConsumption.Valid {
				reading.OtherConsumption.Float64 = max(0, reading.OtherConsumption.Float64)
			}

			if !yield(reading) {
				return
			}
			i++
		}
	}
}

// ReadChunk groups readings in batches of size.
func (r *importReader) ReadChunk(size int) iter.Seq[[]*databaser.Reading] {
	return func(yield func([]*databaser.Reading) bool) {
		batch := make([]*databaser.Reading, 0, size)

		for reading := range r.Read() {
			batch = append(batch, reading)

			if len(batch) == size {
				if !yield(batch) {
					return
				}
				batch = make([]*databaser.Reading, 0, size)
			}
		}

		if len(batch) > 0 {
			yield(batch)
		}
	}
}

// InsertReadings inserts readings into the database within a specified timeout.
// Nothing is stored if any record fails.
func (r *importReader) InsertReadings(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	count := 0
	err := databaser.InTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		for rows := range r.ReadChunk(chunkSize) {
			if err := databaser.SaveManyReadingsTx(ctx, tx, rows); err != nil {
				return fmt.Errorf("save readings: %w", err)
			}
			n := len(rows)
			slog.Debug("chunk imported readings", "count", n)
			count += n
		}
		return r.err
	})

	if err != nil {
		return 0, fmt.Errorf("insert readings: %w", err)
	}

	slog.Info("total imported readings", "count", count)
	return count, nil
}
