// Package treatment looks up candidate treatments for a disease on a crop and
// the per-plant base dosage of known products.
package treatment

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/cropcare/internal/models"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Catalog returns treatment candidates for a disease on a crop.
type Catalog interface {
	LookupTreatments(ctx context.Context, disease, crop string) ([]models.TreatmentGroup, error)
}

// ProductLookup resolves the base dosage of a product referenced by an action.
type ProductLookup interface {
	LookupProduct(ctx context.Context, name string) (Product, bool)
}

// Product is a catalog product with its per-plant base dosage.
type Product struct {
	Name         string  `yaml:"name"`
	Kind         string  `yaml:"kind"`
	BasePerPlant float64 `yaml:"base_per_plant"`
	Unit         string  `yaml:"unit"`
	Per          string  `yaml:"per,omitempty"`
}

// Rule maps disease keywords to treatment candidates.
type Rule struct {
	Name       string   `yaml:"name"`
	Keywords   []string `yaml:"keywords"`
	Pattern    string   `yaml:"pattern,omitempty"`
	Crops      []string `yaml:"crops"`
	Chemical   []string `yaml:"chemical"`
	Biological []string `yaml:"biological"`
	Cultural   []string `yaml:"cultural"`
}

// Defaults are layered into every lookup.
type Defaults struct {
	Biological []string `yaml:"biological"`
	Cultural   []string `yaml:"cultural"`
}

// File is the on-disk catalog document.
type File struct {
	Defaults Defaults  `yaml:"defaults"`
	Rules    []Rule    `yaml:"rules"`
	Products []Product `yaml:"products"`
}

// YAMLCatalog is a Catalog and ProductLookup backed by a YAML document.
type YAMLCatalog struct {
	file File
}

// Default returns the catalog compiled into the binary.
func Default() *YAMLCatalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded treatment catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path yields the built-in catalog.
func Load(path string) (*YAMLCatalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*YAMLCatalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i, r := range f.Rules {
		if len(r.Keywords) == 0 && r.Pattern == "" {
			return nil, fmt.Errorf("catalog rule %d (%s): keywords or pattern required", i, r.Name)
		}
		if r.Pattern != "" {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				return nil, fmt.Errorf("catalog rule %d (%s): %w", i, r.Name, err)
			}
		}
	}
	for i, p := range f.Products {
		if p.Name == "" || p.BasePerPlant < 0 {
			return nil, fmt.Errorf("catalog product %d: name and non-negative base_per_plant required", i)
		}
	}
	return &YAMLCatalog{file: f}, nil
}

// LookupTreatments merges every rule matching the disease and crop, then
// layers in the default biological and cultural candidates. The result always
// has a biological and a cultural group; the chemical group is present only
// when a rule supplies one.
func (c *YAMLCatalog) LookupTreatments(ctx context.Context, disease, crop string) ([]models.TreatmentGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.ToLower(disease)
	crop = strings.ToLower(strings.TrimSpace(crop))

	var chemical, biological, cultural []string
	for _, rule := range c.file.Rules {
		if !appliesToCrop(rule, crop) || !matchesRule(text, rule) {
			continue
		}
		chemical = appendUnique(chemical, rule.Chemical...)
		biological = appendUnique(biological, rule.Biological...)
		cultural = appendUnique(cultural, rule.Cultural...)
	}
	biological = appendUnique(biological, c.file.Defaults.Biological...)
	cultural = appendUnique(cultural, c.file.Defaults.Cultural...)

	var groups []models.TreatmentGroup
	if len(chemical) > 0 {
		groups = append(groups, models.TreatmentGroup{Kind: models.TreatmentChemical, Items: chemical})
	}
	groups = append(groups,
		models.TreatmentGroup{Kind: models.TreatmentBiological, Items: biological},
		models.TreatmentGroup{Kind: models.TreatmentCultural, Items: cultural},
	)
	return groups, nil
}

// LookupProduct finds the catalog product whose name is the longest prefix of
// the referenced product, so "Neem oil 1500 ppm (5 ml/L)" resolves to
// "Neem oil 1500 ppm".
func (c *YAMLCatalog) LookupProduct(_ context.Context, name string) (Product, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	candidates := make([]Product, 0, 1)
	for _, p := range c.file.Products {
		if strings.HasPrefix(needle, strings.ToLower(p.Name)) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Product{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].Name) > len(candidates[j].Name)
	})
	return candidates[0], true
}

func appliesToCrop(rule Rule, crop string) bool {
	if len(rule.Crops) == 0 || crop == "" {
		return true
	}
	for _, c := range rule.Crops {
		if strings.EqualFold(c, crop) {
			return true
		}
	}
	return false
}

// matchesRule checks if text matches a rule's pattern or any keyword.
func matchesRule(text string, rule Rule) bool {
	if rule.Pattern != "" {
		if matched, err := regexp.MatchString(rule.Pattern, text); err == nil && matched {
			return true
		}
	}
	for _, keyword := range rule.Keywords {
		if containsWord(text, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// containsWord checks if text contains keyword as a whole word. Multi-word
// keywords use a plain substring match.
func containsWord(text, keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	for _, word := range strings.Fields(text) {
		if strings.Trim(word, ".,;:!?\"'()[]{}-") == keyword {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		dup := false
		for _, have := range dst {
			if strings.EqualFold(have, item) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, item)
		}
	}
	return dst
}
