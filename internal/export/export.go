// Package export renders extraction records as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Arun8573/codec-technology/internal/domain"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv"; empty means json.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", errors.WithHint(errors.Newf("unknown export format %q", s), "use json or csv")
	}
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Row is the JSON shape of one exported record.
type Row struct {
	TaskID    string            `json:"task_id"`
	JobID     string            `json:"job_id"`
	Target    string            `json:"target"`
	FetchedAt string            `json:"fetched_at"`
	RawSize   int64             `json:"raw_size"`
	Fields    map[string]string `json:"fields"`
}

// NewRow converts a record to its exported form.
func NewRow(r domain.Record) Row {
	fields := r.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return Row{
		TaskID:    r.TaskID.String(),
		JobID:     r.JobID.String(),
		Target:    r.Target,
		FetchedAt: r.FetchedAt.UTC().Format(time.RFC3339),
		RawSize:   r.RawSize,
		Fields:    fields,
	}
}

var fixedColumns = []string{"task_id", "job_id", "target", "fetched_at", "raw_size"}

// Write renders records to w in the given format.
func Write(w io.Writer, format Format, records []domain.Record) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, records)
	case FormatJSON, "":
		return writeJSON(w, records)
	default:
		return errors.Newf("unknown export format %q", format)
	}
}

func writeJSON(w io.Writer, records []domain.Record) error {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = NewRow(r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(rows), "encode json")
}

// writeCSV emits the fixed columns followed by the sorted union of all
// field names. Missing fields are empty cells.
func writeCSV(w io.Writer, records []domain.Record) error {
	keys := fieldKeys(records)

	cw := csv.NewWriter(w)
	header := append(append([]string{}, fixedColumns...), keys...)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	row := make([]string, len(header))
	for _, r := range records {
		row[0] = r.TaskID.String()
		row[1] = r.JobID.String()
		row[2] = r.Target
		row[3] = r.FetchedAt.UTC().Format(time.RFC3339)
		row[4] = strconv.FormatInt(r.RawSize, 10)
		for i, k := range keys {
			row[len(fixedColumns)+i] = r.Fields[k]
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

func fieldKeys(records []domain.Record) []string {
	set := make(map[string]struct{})
	for _, r := range records {
		for k := range r.Fields {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteFile writes records to a timestamped file under dir and returns its path.
func WriteFile(dir string, format Format, records []domain.Record, now time.Time) (string, error) {
	if format == "" {
		format = FormatJSON
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create export dir %s", dir)
	}
	name := "scraped_data_" + now.UTC().Format("20060102_150405") + "." + string(format)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create export file")
	}
	if err := Write(f, format, records); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close export file")
	}
	return path, nil
}
