package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProductDecl declares one product to ingest: its stable identifier, how
// its target table is shaped, and (optionally) the upsert key. An empty
// schema kind falls back to the identifier-pattern dispatch.
type ProductDecl struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	SchemaKind string `yaml:"schema_kind"`
	Frequency  string `yaml:"frequency"`
}

// Manifest is the operator-edited product list plus include/exclude
// filters, loaded from products.yaml.
type Manifest struct {
	Products     []ProductDecl `yaml:"products"`
	SkipProducts []string      `yaml:"skip_products"`
	OnlyProducts []string      `yaml:"only_products"`
}

func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Allowed applies the skip/only filters to a product identifier.
func (m *Manifest) Allowed(productID string) bool {
	id := strings.ToUpper(strings.TrimSpace(productID))
	for _, skip := range m.SkipProducts {
		if strings.ToUpper(strings.TrimSpace(skip)) == id {
			return false
		}
	}
	if len(m.OnlyProducts) == 0 {
		return true
	}
	for _, only := range m.OnlyProducts {
		if strings.ToUpper(strings.TrimSpace(only)) == id {
			return true
		}
	}
	return false
}

// Declared returns the manifest entry for a product, nil when absent.
func (m *Manifest) Declared(productID string) *ProductDecl {
	for i := range m.Products {
		if strings.EqualFold(m.Products[i].ID, productID) {
			return &m.Products[i]
		}
	}
	return nil
}
