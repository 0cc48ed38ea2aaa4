// Package signatures loads the tiered vendor-detection rules.
//
// Rules live in YAML files, one per logical rule set (practice-management,
// third-party widgets, phone platforms). Each file maps category to tier to
// vendor to a list of patterns. Detection stays data-driven: adding a vendor
// means editing a file, never code.
package signatures

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

//go:embed defaults/*.yaml
var defaultFiles embed.FS

// DefaultFiles are the rule-set files loaded when none are configured.
var DefaultFiles = []string{"pms.yaml", "third_party.yaml", "phone.yaml"}

// Rule is one compiled vendor pattern.
type Rule struct {
	Category crawler.Category
	Vendor   string
	Tier     crawler.Tier
	Raw      string
	Pattern  *regexp.Regexp
}

// CategorySet groups everything known about one category.
type CategorySet struct {
	Category    crawler.Category
	ScanLinks   bool
	Rules       []Rule
	Presence    []*regexp.Regexp
	ServiceURLs []*regexp.Regexp
}

// Skipped describes a pattern or section that was not loaded.
type Skipped struct {
	File     string
	Category string
	Tier     string
	Vendor   string
	Pattern  string
	Err      error
}

// Store is the immutable, compiled signature table.
type Store struct {
	sets    map[crawler.Category]*CategorySet
	skipped []Skipped
}

type fileSpec struct {
	Categories map[string]categorySpec `yaml:"categories"`
}

type categorySpec struct {
	ScanLinks   *bool                          `yaml:"scan_links"`
	Tiers       map[string]map[string][]string `yaml:"tiers"`
	Presence    []string                       `yaml:"presence"`
	ServiceURLs []string                       `yaml:"service_urls"`
}

// Load reads the named files from dir, or the embedded defaults when dir is
// empty. Malformed patterns are skipped and logged; unreadable or
// unparseable files are errors.
func Load(dir string, files []string, logger *zap.Logger) (*Store, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}
	if dir == "" {
		sub, err := fs.Sub(defaultFiles, "defaults")
		if err != nil {
			return nil, fmt.Errorf("open embedded signatures: %w", err)
		}
		return LoadFS(sub, files, logger)
	}
	return LoadFS(os.DirFS(dir), files, logger)
}

// LoadFS reads the named files from fsys.
func LoadFS(fsys fs.FS, files []string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := newStore()
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read signature file %s: %w", name, err)
		}
		if err := store.add(name, data, logger); err != nil {
			return nil, err
		}
	}
	store.finish()
	logger.Info("signatures loaded",
		zap.Int("files", len(files)),
		zap.Int("rules", store.RuleCount()),
		zap.Int("skipped", len(store.skipped)),
	)
	return store, nil
}

// Parse builds a store from in-memory YAML documents keyed by name.
func Parse(docs map[string][]byte, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	store := newStore()
	for _, name := range names {
		if err := store.add(name, docs[name], logger); err != nil {
			return nil, err
		}
	}
	store.finish()
	return store, nil
}

func newStore() *Store {
	return &Store{sets: make(map[crawler.Category]*CategorySet)}
}

func (s *Store) add(file string, data []byte, logger *zap.Logger) error {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse signature file %s: %w", file, err)
	}
	for _, catName := range sortedKeys(spec.Categories) {
		cs := spec.Categories[catName]
		category, ok := crawler.ParseCategory(strings.ToLower(strings.TrimSpace(catName)))
		if !ok {
			s.skip(logger, Skipped{File: file, Category: catName, Err: fmt.Errorf("%w: unknown category", crawler.ErrMalformedSignature)})
			continue
		}
		set := s.set(category)
		if cs.ScanLinks != nil {
			set.ScanLinks = *cs.ScanLinks
		}
		for _, tierName := range sortedKeys(cs.Tiers) {
			tier, ok := crawler.ParseTier(strings.ToLower(strings.TrimSpace(tierName)))
			if !ok {
				s.skip(logger, Skipped{File: file, Category: catName, Tier: tierName, Err: fmt.Errorf("%w: unknown tier", crawler.ErrMalformedSignature)})
				continue
			}
			vendors := cs.Tiers[tierName]
			for _, vendor := range sortedKeys(vendors) {
				name := strings.TrimSpace(vendor)
				for _, raw := range vendors[vendor] {
					re, err := compile(raw)
					if err != nil || name == "" {
						if err == nil {
							err = fmt.Errorf("%w: empty vendor name", crawler.ErrMalformedSignature)
						}
						s.skip(logger, Skipped{File: file, Category: catName, Tier: tierName, Vendor: vendor, Pattern: raw, Err: err})
						continue
					}
					set.Rules = append(set.Rules, Rule{Category: category, Vendor: name, Tier: tier, Raw: raw, Pattern: re})
				}
			}
		}
		set.Presence = append(set.Presence, s.compileList(logger, file, catName, "presence", cs.Presence)...)
		set.ServiceURLs = append(set.ServiceURLs, s.compileList(logger, file, catName, "service_urls", cs.ServiceURLs)...)
	}
	return nil
}

func (s *Store) compileList(logger *zap.Logger, file, category, section string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		re, err := compile(raw)
		if err != nil {
			s.skip(logger, Skipped{File: file, Category: category, Tier: section, Pattern: raw, Err: err})
			continue
		}
		out = append(out, re)
	}
	return out
}

func (s *Store) set(c crawler.Category) *CategorySet {
	if set, ok := s.sets[c]; ok {
		return set
	}
	set := &CategorySet{Category: c, ScanLinks: true}
	s.sets[c] = set
	return set
}

func (s *Store) skip(logger *zap.Logger, sk Skipped) {
	s.skipped = append(s.skipped, sk)
	logger.Warn("skipping malformed signature",
		zap.String("file", sk.File),
		zap.String("category", sk.Category),
		zap.String("tier", sk.Tier),
		zap.String("vendor", sk.Vendor),
		zap.String("pattern", sk.Pattern),
		zap.Error(sk.Err),
	)
}

// finish orders rules strongest tier first, then by vendor, keeping file
// order for patterns of the same vendor and tier.
func (s *Store) finish() {
	for _, set := range s.sets {
		sort.SliceStable(set.Rules, func(i, j int) bool {
			a, b := set.Rules[i], set.Rules[j]
			if a.Tier != b.Tier {
				return a.Tier.Weight() > b.Tier.Weight()
			}
			return a.Vendor < b.Vendor
		})
	}
}

func compile(raw string) (*regexp.Regexp, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty pattern", crawler.ErrMalformedSignature)
	}
	re, err := regexp.Compile("(?i)" + raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrMalformedSignature, err)
	}
	return re, nil
}

// Set returns the rules for a category, or nil when none were loaded.
func (s *Store) Set(c crawler.Category) *CategorySet {
	if s == nil {
		return nil
	}
	return s.sets[c]
}

// Rules returns the compiled rules for a category.
func (s *Store) Rules(c crawler.Category) []Rule {
	if set := s.Set(c); set != nil {
		return set.Rules
	}
	return nil
}

// Vendors lists the distinct vendor names of a category.
func (s *Store) Vendors(c crawler.Category) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range s.Rules(c) {
		if _, ok := seen[r.Vendor]; ok {
			continue
		}
		seen[r.Vendor] = struct{}{}
		out = append(out, r.Vendor)
	}
	sort.Strings(out)
	return out
}

// RuleCount is the number of compiled vendor rules across all categories.
func (s *Store) RuleCount() int {
	n := 0
	for _, set := range s.sets {
		n += len(set.Rules)
	}
	return n
}

// Skipped returns everything that failed to load.
func (s *Store) Skipped() []Skipped {
	return append([]Skipped(nil), s.skipped...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
