package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes points as "datetime,<valueName>" rows.
func WriteCSV(w io.Writer, points []Point, valueName string) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"datetime", valueName}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, p := range points {
		record := []string{p.Timestamp.Format(time.DateTime), strconv.FormatFloat(p.Value, 'f', -1, 64)}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write point %s: %w", p.Timestamp.Format(time.DateTime), err)
		}
	}

	cw.Flush()
	return cw.Error()
}
