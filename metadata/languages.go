package metadata

import "strings"

// KnownLanguages lists the language tags the store recognizes natively.
// Tags outside this list are still accepted and indexed lowercased, they just
// miss out on alias folding.
var KnownLanguages = []string{
	"python",
	"javascript",
	"typescript",
	"java",
	"csharp",
	"go",
	"rust",
	"cpp",
	"ruby",
	"php",
	"swift",
	"kotlin",
}

// languageAliases folds common spellings onto the canonical tag.
var languageAliases = map[string]string{
	"c#":     "csharp",
	"cs":     "csharp",
	"c++":    "cpp",
	"cxx":    "cpp",
	"js":     "javascript",
	"node":   "javascript",
	"ts":     "typescript",
	"golang": "go",
	"py":     "python",
	"rb":     "ruby",
	"rs":     "rust",
}

// NormalizeLanguage canonicalizes a user supplied language tag: whitespace is
// trimmed, the tag is lowercased and well known aliases are folded onto their
// canonical name. Unknown tags pass through lowercased so that new languages
// work without a code change.
func NormalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if canonical, ok := languageAliases[tag]; ok {
		return canonical
	}

	return tag
}
