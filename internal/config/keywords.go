package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/metalnews/internal/news"
)

// Keywords holds the classifier vocabularies and the title label list.
type Keywords struct {
	Include          []string `yaml:"include"`
	Exclude          []string `yaml:"exclude"`
	CategoryPrefixes []string `yaml:"category_prefixes"`
}

func DefaultKeywords() Keywords {
	return Keywords{
		Include:          append([]string(nil), news.DefaultKeywords...),
		Exclude:          append([]string(nil), news.DefaultExcludeKeywords...),
		CategoryPrefixes: append([]string(nil), news.DefaultCategoryPrefixes...),
	}
}

// LoadKeywords reads the vocabulary file. A missing file yields the
// built-in defaults; empty lists in the file fall back per list.
func LoadKeywords(path string) (Keywords, error) {
	def := DefaultKeywords()
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return Keywords{}, fmt.Errorf("read keywords: %w", err)
	}

	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return Keywords{}, fmt.Errorf("parse keywords: %w", err)
	}
	if len(kw.Include) == 0 {
		kw.Include = def.Include
	}
	if len(kw.Exclude) == 0 {
		kw.Exclude = def.Exclude
	}
	if len(kw.CategoryPrefixes) == 0 {
		kw.CategoryPrefixes = def.CategoryPrefixes
	}
	return kw, nil
}
