// Package dataset loads classifier output for review passes.
package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/utils"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor JSONL.
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// ErrInvalidRow marks a row that cannot become a Sample.
var ErrInvalidRow = errors.New("invalid row")

const maxLineBytes = 1 << 20

var columnAliases = map[string]string{
	"id":              "id",
	"sample_id":       "id",
	"text":            "text",
	"pred_label":      "pred_label",
	"predicted_label": "pred_label",
	"label":           "pred_label",
	"confidence":      "confidence",
}

// Load reads samples from a .csv or .jsonl file.
func Load(path string) ([]models.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.NewAppError("dataset.load", "open "+path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f)
	case ".jsonl", ".ndjson":
		return ReadJSONL(f)
	default:
		return nil, utils.NewAppError("dataset.load", path, ErrUnsupportedFormat)
	}
}

// ReadCSV parses a header row followed by samples. Column order is free;
// id, text, pred_label (or predicted_label) and confidence are recognised.
func ReadCSV(r io.Reader) ([]models.Sample, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []models.Sample{}, nil
	}
	if err != nil {
		return nil, utils.NewAppError("dataset.csv", "read header", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		if canonical, ok := columnAliases[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))]; ok {
			columns[canonical] = i
		}
	}
	for _, required := range []string{"text", "pred_label", "confidence"} {
		if _, ok := columns[required]; !ok {
			return nil, utils.Errorf("dataset.csv", ErrInvalidRow, "header is missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var out []models.Sample
	seen := make(map[string]int)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, utils.NewAppError("dataset.csv", "read row", err)
		}
		line, _ := reader.FieldPos(0)
		conf, err := strconv.ParseFloat(strings.TrimSpace(field(record, "confidence")), 64)
		if err != nil {
			return nil, utils.Errorf("dataset.csv", ErrInvalidRow, "line %d: confidence %q", line, field(record, "confidence"))
		}
		sample, err := buildSample(line, field(record, "id"), field(record, "text"), field(record, "pred_label"), conf, seen)
		if err != nil {
			return nil, utils.NewAppError("dataset.csv", "validate row", err)
		}
		out = append(out, sample)
	}
	if out == nil {
		out = []models.Sample{}
	}
	return out, nil
}

type jsonRow struct {
	ID             json.RawMessage `json:"id"`
	SampleID       string          `json:"sample_id"`
	Text           string          `json:"text"`
	PredLabel      string          `json:"pred_label"`
	PredictedLabel string          `json:"predicted_label"`
	Confidence     *float64        `json:"confidence"`
}

// ReadJSONL parses one JSON object per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]models.Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	out := []models.Sample{}
	seen := make(map[string]int)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var row jsonRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, utils.Errorf("dataset.jsonl", err, "line %d", line)
		}
		if row.Confidence == nil {
			return nil, utils.Errorf("dataset.jsonl", ErrInvalidRow, "line %d: confidence is required", line)
		}
		label := row.PredLabel
		if label == "" {
			label = row.PredictedLabel
		}
		id := row.SampleID
		if len(row.ID) > 0 {
			id = rawID(row.ID)
		}
		sample, err := buildSample(line, id, row.Text, label, *row.Confidence, seen)
		if err != nil {
			return nil, utils.NewAppError("dataset.jsonl", "validate row", err)
		}
		out = append(out, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, utils.NewAppError("dataset.jsonl", "scan", err)
	}
	return out, nil
}

// rawID accepts both string and numeric ids.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func buildSample(line int, id, text, label string, confidence float64, seen map[string]int) (models.Sample, error) {
	id = strings.TrimSpace(id)
	text = strings.TrimSpace(text)
	label = strings.TrimSpace(label)
	switch {
	case text == "":
		return models.Sample{}, fmt.Errorf("line %d: text is empty: %w", line, ErrInvalidRow)
	case label == "":
		return models.Sample{}, fmt.Errorf("line %d: predicted label is empty: %w", line, ErrInvalidRow)
	case confidence < 0 || confidence > 1:
		return models.Sample{}, fmt.Errorf("line %d: confidence %v outside [0,1]: %w", line, confidence, ErrInvalidRow)
	}
	if id == "" {
		id = fmt.Sprintf("line-%d", line)
	}
	if prev, ok := seen[id]; ok {
		return models.Sample{}, fmt.Errorf("line %d: duplicate id %q (first seen on line %d): %w", line, id, prev, ErrInvalidRow)
	}
	seen[id] = line
	return models.Sample{ID: id, Text: text, PredictedLabel: label, Confidence: confidence}, nil
}
