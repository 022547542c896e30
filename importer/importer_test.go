package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/z0rr0/wattcast/databaser"
	"github.com/z0rr0/wattcast/series"
)

const hourlyHeader = "datetime,Global_active_power,Global_reactive_power,Voltage,Global_intensity," +
	"Sub_metering_1,Sub_metering_2,Sub_metering_3,Other_Consumption\n"

func newTestDB(t *testing.T) *databaser.DB {
	t.Helper()
	ctx := context.Background()
	db, err := databaser.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

func createTempCSV(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "df_hourly.csv")
	if err := os.WriteFile(filePath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create temp CSV file: %v", err)
	}
	return filePath
}

func TestImportCSV(t *testing.T) {
	tests := []struct {
		name       string
		csvContent string
		wantCount  int
		wantErr    bool
	}{
		{
			name: "full hourly dataset",
			csvContent: hourlyHeader +
				"2006-12-16 17:00:00,4.222889,0.229,234.643889,18.1,0.0,0.527778,16.861111,53.992\n" +
				"2006-12-16 18:00:00,3.6322,0.08,234.580167,15.6,0.0,6.716667,16.866667,36.953\n" +
				"2006-12-16 19:00:00,3.400233,0.085,233.2325,14.5,0.0,1.433333,16.683333,38.554\n",
			wantCount: 3,
		},
		{
			name: "target only",
			csvContent: "datetime,Global_active_power\n" +
				"2006-12-16 17:00:00,4.2\n" +
				"2006-12-16 18:00:00,3.6\n",
			wantCount: 2,
		},
		{
			name: "unnamed index column",
			csvContent: ",Global_active_power,Voltage\n" +
				"2006-12-16 17:00:00,4.2,240\n",
			wantCount: 1,
		},
		{
			name:       "header only",
			csvContent: hourlyHeader,
			wantCount:  0,
		},
		{
			name:       "missing target column",
			csvContent: "datetime,Voltage\n2006-12-16 17:00:00,240\n",
			wantErr:    true,
		},
		{
			name:       "empty file",
			csvContent: "",
			wantErr:    true,
		},
		{
			name: "invalid value",
			csvContent: "datetime,Global_active_power\n" +
				"2006-12-16 17:00:00,4.2\n" +
				"2006-12-16 18:00:00,abc\n",
			wantErr: true,
		},
		{
			name: "invalid timestamp",
			csvContent: "datetime,Global_active_power\n" +
				"16/12/2006 17:00,4.2\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			filePath := createTempCSV(t, tt.csvContent)

			count, err := ImportCSV(db, filePath, 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ImportCSV() error = %v, wantErr %v", err, tt.wantErr)
			}

			stats, err := db.GetReadingStats(context.Background())
			if err != nil {
				t.Fatalf("GetReadingStats() error = %v", err)
			}

			if tt.wantErr {
				if stats.Count != 0 {
					t.Errorf("failed import stored %d readings", stats.Count)
				}
				return
			}

			if count != tt.wantCount || stats.Count != tt.wantCount {
				t.Errorf("imported %d, stored %d, want %d", count, stats.Count, tt.wantCount)
			}
		})
	}
}

func TestImportCSV_FileNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := ImportCSV(db, "/non/existent/file.csv", 5*time.Second); err == nil {
		t.Error("ImportCSV() expected error for missing file")
	}
}

func TestImportCSV_Values(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	content := hourlyHeader +
		"2006-12-16 17:00:00,4.2,0.2,234.6,18.1,1,2,3,-0.5\n" +
		"2006-12-16 18:00:00,3.6,0.1,?,15.6,0,0,0,\n"

	if _, err := ImportCSV(db, createTempCSV(t, content), 5*time.Second); err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}

	readings, err := db.GetLastReadings(ctx, 10)
	if err != nil {
		t.Fatalf("GetLastReadings() error = %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2", len(readings))
	}

	first := readings[0].Values()
	if first[series.SubMetering3] != 3 || first[series.Voltage] != 234.6 {
		t.Errorf("first values = %v", first)
	}
	if first[series.OtherConsumption] != 0 {
		t.Errorf("negative residual stored as %v, want 0", first[series.OtherConsumption])
	}

	second := readings[1].Values()
	if _, ok := second[series.Voltage]; ok {
		t.Error("missing voltage must be NULL")
	}
	if _, ok := second[series.OtherConsumption]; ok {
		t.Error("empty residual must be NULL")
	}
}

func TestImportCSV_ManyChunks(t *testing.T) {
	db := newTestDB(t)

	var b strings.Builder
	b.WriteString("datetime,Global_active_power\n")
	start := time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC)
	n := chunkSize*2 + 17
	for i := range n {
		b.WriteString(start.Add(time.Duration(i) * time.Hour).Format(time.DateTime))
		b.WriteString(",1.5\n")
	}

	count, err := ImportCSV(db, createTempCSV(t, b.String()), 5*time.Second)
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if count != n {
		t.Errorf("count = %d, want %d", count, n)
	}

	f, err := db.GetHistory(context.Background(), n)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if f.Len() != n || !f.First().Equal(start) {
		t.Errorf("history len %d from %v", f.Len(), f.First())
	}
}

func TestImportCSV_DaylightSavingChanges(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
	}{
		{name: "autumn", start: time.Date(2007, 10, 20, 0, 0, 0, 0, time.UTC)}, // Europe/Paris on 2007-10-28
		{name: "spring", start: time.Date(2008, 3, 22, 0, 0, 0, 0, time.UTC)},  // Europe/Paris on 2008-03-30
	}

	const n = 14 * 24
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)

			var b strings.Builder
			b.WriteString("datetime,Global_active_power\n")
			for i := range n {
				b.WriteString(tt.start.Add(time.Duration(i) * time.Hour).Format(time.DateTime))
				b.WriteString(",1.5\n")
			}

			count, err := ImportCSV(db, createTempCSV(t, b.String()), 5*time.Second)
			if err != nil {
				t.Fatalf("ImportCSV() error = %v", err)
			}
			if count != n {
				t.Errorf("count = %d, want %d", count, n)
			}

			f, err := db.GetHistory(context.Background(), n)
			if err != nil {
				t.Fatalf("GetHistory() error = %v", err)
			}
			if f.Len() != n {
				t.Fatalf("history len = %d, want %d", f.Len(), n)
			}
			if err = f.Hourly(); err != nil {
				t.Errorf("history is not hourly: %v", err)
			}
			if !f.First().Equal(tt.start) {
				t.Errorf("first = %v, want %v", f.First(), tt.start)
			}
			for i := range n {
				if hour := f.Time(i).Hour(); hour != i%24 {
					t.Fatalf("row %d hour = %d, want wall-clock hour %d", i, hour, i%24)
				}
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	header, err := parseHeader([]string{"\ufeffdatetime", " Global_active_power ", "Voltage"})
	if err != nil {
		t.Fatalf("parseHeader() error = %v", err)
	}
	if header[databaser.DateTimeColumn] != 0 || header[series.GlobalActivePower] != 1 || header[series.Voltage] != 2 {
		t.Errorf("header = %v", header)
	}

	if _, err = parseHeader([]string{"time", "load"}); !errors.Is(err, ErrHeader) {
		t.Errorf("parseHeader() error = %v, want ErrHeader", err)
	}
}
