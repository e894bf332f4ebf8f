package etl

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

const maxLineBytes = 16 << 20

// recordSource yields records until io.EOF. Errors wrapping ErrMalformedRecord
// skip one record; any other error stops the run.
type recordSource interface {
	Next() (Record, error)
}

type recordSink interface {
	Write(Record) error
	Close() error
}

// parquetRow is the Parquet schema for masked datasets
type parquetRow struct {
	ID   string `parquet:"id"`
	Text string `parquet:"text"`
}

func openSource(format FileFormat, file *os.File) (recordSource, error) {
	switch format {
	case FormatCSV:
		return newCSVSource(file)
	case FormatJSONL:
		return newJSONLSource(file), nil
	case FormatParquet:
		return &parquetSource{reader: parquet.NewReader(file)}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func openSink(format FileFormat, w io.Writer, src recordSource) (recordSink, error) {
	switch format {
	case FormatCSV:
		cs, ok := src.(*csvSource)
		if !ok {
			return nil, fmt.Errorf("csv output needs a csv input")
		}
		return newCSVSink(w, cs)
	case FormatJSONL:
		return &jsonlSink{w: bufio.NewWriter(w)}, nil
	case FormatParquet:
		return &parquetSink{writer: parquet.NewGenericWriter[parquetRow](w)}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// csvSource reads a CSV file with a header row containing a text column
type csvSource struct {
	reader  *csv.Reader
	header  []string
	textIdx int
	idIdx   int
	line    int
}

func newCSVSource(r io.Reader) (*csvSource, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	src := &csvSource{reader: reader, header: header, textIdx: -1, idIdx: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "text":
			src.textIdx = i
		case "id":
			src.idIdx = i
		}
	}
	if src.textIdx < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}
	return src, nil
}

func (c *csvSource) Next() (Record, error) {
	row, err := c.reader.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	c.line++
	if err != nil {
		return Record{}, fmt.Errorf("%w: csv row %d: %v", ErrMalformedRecord, c.line, err)
	}

	rec := Record{ID: strconv.Itoa(c.line), Text: row[c.textIdx], row: row}
	if c.idIdx >= 0 {
		rec.ID = row[c.idIdx]
	}
	return rec, nil
}

// csvSink writes the source's columns back, adding a leading id column when the
// input had none so a later restore can pair rows with their mappings.
type csvSink struct {
	writer  *csv.Writer
	textIdx int
	addID   bool
}

func newCSVSink(w io.Writer, src *csvSource) (*csvSink, error) {
	sink := &csvSink{writer: csv.NewWriter(w), textIdx: src.textIdx, addID: src.idIdx < 0}

	header := src.header
	if sink.addID {
		header = append([]string{"id"}, header...)
	}
	if err := sink.writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	return sink, nil
}

func (c *csvSink) Write(rec Record) error {
	row := append([]string(nil), rec.row...)
	row[c.textIdx] = rec.Text
	if c.addID {
		row = append([]string{rec.ID}, row...)
	}
	return c.writer.Write(row)
}

func (c *csvSink) Close() error {
	c.writer.Flush()
	return c.writer.Error()
}

// jsonlSource reads one JSON object per line with a string text field
type jsonlSource struct {
	scanner *bufio.Scanner
	line    int
}

func newJSONLSource(r io.Reader) *jsonlSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &jsonlSource{scanner: scanner}
}

func (j *jsonlSource) Next() (Record, error) {
	for j.scanner.Scan() {
		j.line++
		line := bytes.TrimSpace(j.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(line, &fields); err != nil {
			return Record{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, j.line, err)
		}

		rec := Record{ID: strconv.Itoa(j.line), extra: fields}
		rawText, ok := fields["text"]
		if !ok {
			return Record{}, fmt.Errorf("%w: line %d: missing text field", ErrMalformedRecord, j.line)
		}
		if err := json.Unmarshal(rawText, &rec.Text); err != nil {
			return Record{}, fmt.Errorf("%w: line %d: text is not a string", ErrMalformedRecord, j.line)
		}
		if rawID, ok := fields["id"]; ok {
			rec.ID = rawJSONString(rawID)
		}
		return rec, nil
	}

	if err := j.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to read JSON lines: %w", err)
	}
	return Record{}, io.EOF
}

// rawJSONString returns a JSON string's value, or the literal text for numbers
func rawJSONString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

type jsonlSink struct {
	w *bufio.Writer
}

func (j *jsonlSink) Write(rec Record) error {
	fields := make(map[string]interface{}, len(rec.extra)+2)
	for k, v := range rec.extra {
		fields[k] = v
	}
	fields["text"] = rec.Text
	if _, ok := fields["id"]; !ok {
		fields["id"] = rec.ID
	}

	line, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}
	if _, err := j.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (j *jsonlSink) Close() error {
	return j.w.Flush()
}

type parquetSource struct {
	reader *parquet.Reader
	row    int
}

func (p *parquetSource) Next() (Record, error) {
	var row parquetRow
	if err := p.reader.Read(&row); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read Parquet row: %w", err)
	}
	p.row++

	if row.ID == "" {
		row.ID = strconv.Itoa(p.row)
	}
	return Record{ID: row.ID, Text: row.Text}, nil
}

type parquetSink struct {
	writer *parquet.GenericWriter[parquetRow]
}

func (p *parquetSink) Write(rec Record) error {
	_, err := p.writer.Write([]parquetRow{{ID: rec.ID, Text: rec.Text}})
	return err
}

func (p *parquetSink) Close() error {
	return p.writer.Close()
}

func (p *parquetSource) Close() error {
	return p.reader.Close()
}
