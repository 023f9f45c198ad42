// Package runconfig materializes the per-restaurant YAML config consumed by the
// external review scraper.
package runconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/review-harvester/internal/collect"
	"github.com/JakeFAU/review-harvester/internal/slug"
)

// DefaultURLPattern targets the Google Maps place page in English.
const DefaultURLPattern = "https://www.google.com/maps/place/?q=place_id:{place_id}&hl=en&gl=US"

// PlaceIDToken is replaced by the entity's external id in the URL pattern.
const PlaceIDToken = "{place_id}"

// Template keys overridden for every entity.
const (
	KeyRestaurant  = "restaurant"
	KeyURL         = "url"
	KeyJSONPath    = "json_path"
	KeySeenIDsPath = "seen_ids_path"
)

// Config controls where templates are read and configs are written.
type Config struct {
	TemplatePath string
	URLPattern   string
	Layout       collect.Layout
}

// Materializer writes one YAML config per entity from a shared template.
type Materializer struct {
	cfg    Config
	hasher collect.Hasher
	logger *zap.Logger
}

// New validates cfg and returns a Materializer. hasher may be nil.
func New(cfg Config, hasher collect.Hasher, logger *zap.Logger) (*Materializer, error) {
	if strings.TrimSpace(cfg.TemplatePath) == "" {
		return nil, &collect.ConfigError{Op: "materializer", Err: errors.New("template path is required")}
	}
	if strings.TrimSpace(cfg.Layout.OutputDir) == "" || strings.TrimSpace(cfg.Layout.ConfigsDir) == "" {
		return nil, &collect.ConfigError{Op: "materializer", Err: errors.New("output and configs directories are required")}
	}
	if cfg.URLPattern == "" {
		cfg.URLPattern = DefaultURLPattern
	}
	if !strings.Contains(cfg.URLPattern, PlaceIDToken) {
		return nil, &collect.ConfigError{
			Op:  "materializer",
			Err: fmt.Errorf("url pattern %q lacks %s", cfg.URLPattern, PlaceIDToken),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{cfg: cfg, hasher: hasher, logger: logger}, nil
}

// TargetURL embeds the external id into the configured URL pattern.
func (m *Materializer) TargetURL(externalID string) string {
	return strings.ReplaceAll(m.cfg.URLPattern, PlaceIDToken, externalID)
}

// Materialize re-reads the template, applies the entity overrides and writes
// the result to the entity's config path. The entity's output directory is
// created when missing.
func (m *Materializer) Materialize(entity collect.Entity) (collect.RunConfig, error) {
	s := slug.Make(entity.Name)
	if s == "" {
		return collect.RunConfig{}, &collect.ConfigError{
			Op:  "materialize",
			Err: fmt.Errorf("restaurant %q yields an empty slug", entity.Name),
		}
	}
	layout := m.cfg.Layout
	rc := collect.RunConfig{
		Slug:        s,
		Restaurant:  entity.Name,
		URL:         m.TargetURL(entity.ExternalID),
		JSONPath:    layout.DocumentPath(s),
		SeenIDsPath: layout.LedgerPath(s),
		Path:        layout.ConfigPath(s),
	}

	if err := os.MkdirAll(layout.Dir(s), 0o750); err != nil {
		return collect.RunConfig{}, &collect.ConfigError{Op: "create output dir", Path: layout.Dir(s), Err: err}
	}

	doc, err := m.loadTemplate()
	if err != nil {
		return collect.RunConfig{}, err
	}
	root := doc.Content[0]
	setScalar(root, KeyRestaurant, rc.Restaurant)
	setScalar(root, KeyURL, rc.URL)
	setScalar(root, KeyJSONPath, rc.JSONPath)
	setScalar(root, KeySeenIDsPath, rc.SeenIDsPath)

	payload, err := encode(doc)
	if err != nil {
		return collect.RunConfig{}, &collect.ConfigError{Op: "encode config", Path: rc.Path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(rc.Path), 0o750); err != nil {
		return collect.RunConfig{}, &collect.ConfigError{Op: "create configs dir", Path: filepath.Dir(rc.Path), Err: err}
	}
	if err := os.WriteFile(rc.Path, payload, 0o600); err != nil {
		return collect.RunConfig{}, &collect.ConfigError{Op: "write config", Path: rc.Path, Err: err}
	}

	if m.hasher != nil {
		digest, err := m.hasher.Hash(payload)
		if err != nil {
			m.logger.Warn("config digest failed", zap.String("slug", s), zap.Error(err))
		}
		rc.Digest = digest
	}
	m.logger.Debug("config materialized",
		zap.String("slug", s),
		zap.String("config_path", rc.Path),
		zap.String("url", rc.URL),
		zap.String("digest", rc.Digest),
	)
	return rc, nil
}

// loadTemplate parses the template fresh so no entity observes another's overrides.
func (m *Materializer) loadTemplate() (*yaml.Node, error) {
	raw, err := os.ReadFile(m.cfg.TemplatePath)
	if err != nil {
		return nil, &collect.ConfigError{Op: "read template", Path: m.cfg.TemplatePath, Err: err}
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &collect.ConfigError{Op: "parse template", Path: m.cfg.TemplatePath, Err: err}
	}
	if doc.Kind == 0 {
		// Empty template: start from an empty mapping.
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, &collect.ConfigError{
			Op:   "parse template",
			Path: m.cfg.TemplatePath,
			Err:  errors.New("template root must be a mapping"),
		}
	}
	return &doc, nil
}

// setScalar replaces the value of key in place, or appends key when absent.
func setScalar(mapping *yaml.Node, key, value string) {
	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			val.LineComment = mapping.Content[i+1].LineComment
			mapping.Content[i+1] = val
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		val,
	)
}

func encode(doc *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close yaml encoder: %w", err)
	}
	return buf.Bytes(), nil
}
