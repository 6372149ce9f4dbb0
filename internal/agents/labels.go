package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Label is one class the reviewed classifier can predict.
type Label struct {
	Name       string   `yaml:"name"`
	Definition string   `yaml:"definition"`
	Examples   []string `yaml:"examples,omitempty"`
}

// LabelCatalogFile is the YAML root structure.
type LabelCatalogFile struct {
	Labels []Label `yaml:"labels"`
}

// LabelCatalog is the set of labels agents may suggest.
type LabelCatalog struct {
	labels []Label
	byName map[string]string
}

// DefaultLabels is used when no catalog file is configured.
var DefaultLabels = []Label{
	{Name: "Access Request", Definition: "The user asks to see or receive a copy of the personal data held about them."},
	{Name: "Deletion Request", Definition: "The user asks for their personal data or account to be erased."},
	{Name: "Correction Request", Definition: "The user asks for inaccurate personal data to be corrected or updated."},
	{Name: "Opt-Out", Definition: "The user withdraws consent to marketing, tracking or the sale of their data."},
	{Name: "Complaint", Definition: "The user expresses dissatisfaction about how their data or request was handled."},
	{Name: "General Inquiry", Definition: "A question about data practices that does not request an action on personal data."},
}

// NewLabelCatalog builds a catalog from labels. Names must be unique and non-empty.
func NewLabelCatalog(labels []Label) (*LabelCatalog, error) {
	if len(labels) == 0 {
		return nil, errors.New("label catalog is empty")
	}
	c := &LabelCatalog{byName: make(map[string]string, len(labels))}
	for _, l := range labels {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return nil, errors.New("label name is required")
		}
		key := strings.ToLower(name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("duplicate label %q", name)
		}
		l.Name = name
		c.byName[key] = name
		c.labels = append(c.labels, l)
	}
	return c, nil
}

// LoadLabelCatalog reads a catalog from path. An empty path or a missing file
// yields the default catalog.
func LoadLabelCatalog(path string, logger *slog.Logger) (*LabelCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return NewLabelCatalog(DefaultLabels)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("label catalog not found, using defaults", slog.String("path", path))
			return NewLabelCatalog(DefaultLabels)
		}
		return nil, fmt.Errorf("read label catalog: %w", err)
	}
	var file LabelCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse label catalog: %w", err)
	}
	return NewLabelCatalog(file.Labels)
}

// Labels returns the catalog entries in file order.
func (c *LabelCatalog) Labels() []Label {
	return append([]Label(nil), c.labels...)
}

// Normalize maps a label onto its canonical catalog spelling. Unknown labels
// are returned trimmed; empty and null-like values yield nil.
func (c *LabelCatalog) Normalize(label string) *string {
	label = strings.TrimSpace(label)
	switch strings.ToLower(label) {
	case "", "null", "none", "n/a":
		return nil
	}
	if c == nil {
		return &label
	}
	if canonical, ok := c.byName[strings.ToLower(label)]; ok {
		return &canonical
	}
	return &label
}
