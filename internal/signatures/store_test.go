package signatures

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	t.Parallel()

	store, err := Load("", nil, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, store.Skipped())

	for _, c := range crawler.Categories {
		require.NotNil(t, store.Set(c), "category %s missing", c)
		assert.NotEmpty(t, store.Rules(c), "category %s has no rules", c)
	}
	assert.True(t, store.Set(crawler.CategoryBooking).ScanLinks)
	assert.False(t, store.Set(crawler.CategoryPhone).ScanLinks)
	assert.NotEmpty(t, store.Set(crawler.CategoryBooking).Presence)
	assert.NotEmpty(t, store.Set(crawler.CategoryForms).ServiceURLs)
	assert.Contains(t, store.Vendors(crawler.CategoryBooking), "Weave")
	assert.Contains(t, store.Vendors(crawler.CategoryPMS), "Open Dental")
}

func TestRulesOrderedStrongestFirst(t *testing.T) {
	t.Parallel()

	store, err := Parse(map[string][]byte{"a.yaml": []byte(`
categories:
  booking:
    tiers:
      weak:
        Alpha: ['alpha']
      strong:
        Zeta: ['zeta\.com']
        Beta: ['beta\.com']
      medium:
        Alpha: ['alpha\.io']
`)}, nil)
	require.NoError(t, err)

	rules := store.Rules(crawler.CategoryBooking)
	require.Len(t, rules, 4)
	assert.Equal(t, "Beta", rules[0].Vendor)
	assert.Equal(t, crawler.TierStrong, rules[0].Tier)
	assert.Equal(t, "Zeta", rules[1].Vendor)
	assert.Equal(t, crawler.TierMedium, rules[2].Tier)
	assert.Equal(t, crawler.TierWeak, rules[3].Tier)
	assert.True(t, rules[0].Pattern.MatchString("https://BETA.com/x"), "patterns are case-insensitive")
}

func TestMalformedPatternsAreSkippedAndLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store, err := Parse(map[string][]byte{"bad.yaml": []byte(`
categories:
  pms:
    tiers:
      strong:
        Broken: ['(unclosed', '']
        Fine: ['fine\.com']
      legendary:
        Nope: ['nope']
  telepathy:
    tiers:
      weak:
        Mind: ['mind']
  forms:
    presence: ['[z-a]', 'paperless']
`)}, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, []string{"Fine"}, store.Vendors(crawler.CategoryPMS))
	assert.Len(t, store.Set(crawler.CategoryForms).Presence, 1)

	skipped := store.Skipped()
	require.Len(t, skipped, 5)
	for _, sk := range skipped {
		assert.True(t, errors.Is(sk.Err, crawler.ErrMalformedSignature), "unexpected error %v", sk.Err)
	}
	assert.Equal(t, 5, logs.FilterMessage("skipping malformed signature").Len())
}

func TestLoadFromDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(`
categories:
  phone:
    scan_links: true
    tiers:
      strong:
        Acme Voice: ['acmevoice\.net']
`), 0o600))

	store, err := Load(dir, []string{"custom.yaml"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.RuleCount())
	assert.True(t, store.Set(crawler.CategoryPhone).ScanLinks)
	assert.Nil(t, store.Set(crawler.CategoryPMS))
	assert.Empty(t, store.Rules(crawler.CategoryPMS))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(t.TempDir(), []string{"missing.yaml"}, nil)
	require.Error(t, err)

	_, err = Parse(map[string][]byte{"broken.yaml": []byte("categories: [::")}, nil)
	require.Error(t, err)
}

func TestFilesMerge(t *testing.T) {
	t.Parallel()

	store, err := Parse(map[string][]byte{
		"one.yaml": []byte("categories:\n  booking:\n    tiers:\n      strong:\n        A: ['a\\.com']\n"),
		"two.yaml": []byte("categories:\n  booking:\n    tiers:\n      weak:\n        B: ['b']\n"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, store.Vendors(crawler.CategoryBooking))
}
