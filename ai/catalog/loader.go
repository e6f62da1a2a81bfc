// Package catalog reads product and policy documents from YAML files and
// turns them into vector records.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/vector"
)

// Metadata keys and document types shared with the orchestrator.
const (
	DocTypeKey     = "doc_type"
	DocTypeProduct = "product"
	DocTypePolicy  = "policy"
)

// File is one catalog file. Products keep their raw fields so that any
// attribute in the file ends up in the vector metadata.
type File struct {
	Products []map[string]any `yaml:"products"`
	Policies []Policy         `yaml:"policies"`
}

// Policy is a store policy document (returns, shipping, payment).
type Policy struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Loader reads catalog YAML files below a base directory.
type Loader struct {
	baseDir string
}

// NewLoader creates a new catalog loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Load reads a single YAML file relative to the base directory.
func (l *Loader) Load(subPath string) (*File, error) {
	path := filepath.Join(l.baseDir, subPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal YAML %s: %w", subPath, err)
	}
	return &f, nil
}

// LoadDir reads every .yaml and .yml file in the base directory, in name
// order, and returns their records. Duplicate ids are rejected.
func (l *Loader) LoadDir() ([]vector.Record, error) {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", l.baseDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var records []vector.Record
	seen := make(map[string]string)
	for _, name := range names {
		f, err := l.Load(name)
		if err != nil {
			return nil, err
		}
		recs, err := f.Records()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		for _, r := range recs {
			if prev, ok := seen[r.ID]; ok {
				return nil, fmt.Errorf("duplicate id %q in %s, first seen in %s", r.ID, name, prev)
			}
			seen[r.ID] = name
		}
		records = append(records, recs...)
	}
	return records, nil
}

// Records converts the file's documents into vector records without
// embeddings. Products need an id and a name; policies need an id and
// content.
func (f *File) Records() ([]vector.Record, error) {
	records := make([]vector.Record, 0, len(f.Products)+len(f.Policies))
	for i, raw := range f.Products {
		r, err := productRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("product #%d: %w", i+1, err)
		}
		records = append(records, r)
	}
	for i, p := range f.Policies {
		r, err := policyRecord(p)
		if err != nil {
			return nil, fmt.Errorf("policy #%d: %w", i+1, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func productRecord(raw map[string]any) (vector.Record, error) {
	id := strings.TrimSpace(fmt.Sprint(raw["id"]))
	if raw["id"] == nil || id == "" {
		return vector.Record{}, fmt.Errorf("id is required")
	}

	metadata := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		metadata[k] = v
	}
	metadata["id"] = id
	metadata[DocTypeKey] = DocTypeProduct

	p, err := ranking.ProductFromMetadata(id, 0, metadata)
	if err != nil {
		return vector.Record{}, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return vector.Record{}, fmt.Errorf("product %s: name is required", id)
	}
	return vector.Record{ID: id, Text: p.Document(), Metadata: metadata}, nil
}

func policyRecord(p Policy) (vector.Record, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return vector.Record{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return vector.Record{}, fmt.Errorf("policy %s: content is required", id)
	}

	text := p.Content
	if p.Title != "" {
		text = p.Title + ". " + p.Content
	}
	return vector.Record{
		ID:   id,
		Text: text,
		Metadata: map[string]any{
			DocTypeKey: DocTypePolicy,
			"title":    p.Title,
			"content":  p.Content,
		},
	}, nil
}
