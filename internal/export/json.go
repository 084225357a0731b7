package export

import (
	"bufio"
	"encoding/json"
	"io"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

// jsonWriter streams an array of objects keyed by column name, keeping the
// column order of the result set.
type jsonWriter struct {
	w    *bufio.Writer
	rows int
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{w: bufio.NewWriter(w)}
}

// WriteHeader is a no-op: column names are the object keys.
func (j *jsonWriter) WriteHeader(_ []domain.DbColumn) error { return nil }

func (j *jsonWriter) WriteRow(cols []domain.DbColumn, row []resultset.Value) error {
	if j.rows == 0 {
		j.w.WriteString("[\n  {")
	} else {
		j.w.WriteString(",\n  {")
	}
	j.rows++
	for i, v := range row {
		if i > 0 {
			j.w.WriteString(", ")
		}
		key, err := json.Marshal(cols[i].ColumnName)
		if err != nil {
			return err
		}
		j.w.Write(key)
		j.w.WriteString(": ")
		val, err := cellJSON(cols[i], v)
		if err != nil {
			return err
		}
		if _, err := j.w.Write(val); err != nil {
			return err
		}
	}
	_, err := j.w.WriteString("}")
	return err
}

// cellJSON encodes a cell. Text of json columns is embedded as a document
// rather than as a string when it is valid JSON.
func cellJSON(col domain.DbColumn, v resultset.Value) ([]byte, error) {
	if col.IsJSON() && (v.Kind == resultset.KindText || v.Kind == resultset.KindOpaque) && json.Valid([]byte(v.Str)) {
		return []byte(v.Str), nil
	}
	return json.Marshal(v.JSON())
}

func (j *jsonWriter) Close() error {
	if j.rows == 0 {
		j.w.WriteString("[]\n")
	} else {
		j.w.WriteString("\n]\n")
	}
	return j.w.Flush()
}

// Abort discards buffered output.
func (j *jsonWriter) Abort() {}
