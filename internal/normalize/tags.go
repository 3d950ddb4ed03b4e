package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cornermap/sync-service/internal/models"
)

// TagOther is the catch-all category used when no rule matches.
const TagOther = "other"

// TagRule maps keyword matches in a place's text to one of the fixed tags.
type TagRule struct {
	Tag      string   `yaml:"tag"`
	Keywords []string `yaml:"keywords"`

	pattern *regexp.Regexp
}

var defaultTagRules = []TagRule{
	{Tag: "coffee", Keywords: []string{"coffee", "cafe", "espresso", "roastery", "roaster"}},
	{Tag: "food", Keywords: []string{"restaurant", "kitchen", "bakery", "brunch", "pizza", "ramen", "taqueria", "bistro", "deli"}},
	{Tag: "bar", Keywords: []string{"bar", "cocktail", "wine", "beer", "brewery", "pub", "taproom"}},
	{Tag: "culture", Keywords: []string{"museum", "gallery", "theater", "theatre", "cinema", "art", "music", "club", "venue"}},
	{Tag: "outdoors", Keywords: []string{"park", "garden", "trail", "beach", "lake", "river", "viewpoint", "hike"}},
	{Tag: "shop", Keywords: []string{"shop", "store", "boutique", "market", "vintage", "records", "books", "bookstore"}},
}

// LoadTagRules reads a YAML rules file replacing the built-in set.
func LoadTagRules(path string) ([]TagRule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []TagRule
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%s defines no tag rules", path)
	}
	return rules, nil
}

func (r *TagRule) compiled() *regexp.Regexp {
	if r.pattern == nil {
		escaped := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			escaped[i] = regexp.QuoteMeta(kw)
		}
		r.pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
	}
	return r.pattern
}

// classifyTag accepts an already-valid tag verbatim, otherwise classifies the
// place by keyword rules over its name, description and details, defaulting
// to the catch-all category.
func (n *Normalizer) classifyTag(raw models.RawPlace) string {
	tag := strings.ToLower(strings.TrimSpace(raw.Tag))
	for i := range n.tagRules {
		if n.tagRules[i].Tag == tag {
			return tag
		}
	}
	if tag == TagOther {
		return TagOther
	}

	haystack := raw.Name + " " + raw.Description + " " + raw.Details
	for i := range n.tagRules {
		if n.tagRules[i].compiled().MatchString(haystack) {
			return n.tagRules[i].Tag
		}
	}
	return TagOther
}
