package news

import "strings"

// Default vocabularies for metallurgy, mining and decarbonisation news.
var (
	DefaultKeywords = []string{
		"металлург", "гок", "сталь", "стали", "декарбонизац", "чугун",
		"прокат", "руда", "выплавк", "доменн", "электросталь", "ферросплав",
		"горнодобы", "обогащен", "зелён", "зелен", "углеродн", "esg",
		"metallurg", "steel", "decarboniz", "iron", "ore", "mining",
		"furnace", "smelting", "green steel", "carbon",
	}

	DefaultExcludeKeywords = []string{
		"спорт", "футбол", "хоккей", "криминал", "убийство", "ограбление",
		"кража", "дтп", "авария", "sports", "football", "soccer", "crime",
		"murder", "test", "тест", "autotranslate", "автоперевод",
	}
)

// Classifier decides topical relevance by case-insensitive substring match.
// Exclusion terms are absolute.
type Classifier struct {
	include []string
	exclude []string
}

func NewClassifier(include, exclude []string) *Classifier {
	return &Classifier{
		include: lowerAll(include),
		exclude: lowerAll(exclude),
	}
}

func (c *Classifier) Relevant(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	lower := strings.ToLower(text)
	if containsAny(lower, c.exclude) {
		return false
	}
	return containsAny(lower, c.include)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
