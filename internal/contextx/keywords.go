// Package contextx assembles the bounded-size repository context included
// in every model prompt: a source-file listing, AGENTS.md when present, and
// relevance-ranked file excerpts found via the n-gram index (or a path-only
// heuristic when the index search returns no files). The index's age is
// not checked: a stale index that still returns files is used as is.
package contextx

import (
	"strings"

	"github.com/samber/lo"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
	"this": true, "that": true, "it": true, "as": true, "at": true, "by": true,
	"from": true, "please": true, "can": true, "you": true, "i": true,
}

// ExtractKeywords tokenizes title and description into a deduplicated set
// of lowercase words, dropping stopwords and anything under 3 characters.
func ExtractKeywords(title, description string) []string {
	words := strings.FieldsFunc(strings.ToLower(title+" "+description), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	})

	filtered := lo.Filter(words, func(w string, _ int) bool {
		return len(w) >= 3 && !stopwords[w]
	})
	return lo.Uniq(filtered)
}

var binaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "ico": true, "svg": true,
	"woff": true, "woff2": true, "ttf": true, "eot": true, "zip": true, "tar": true,
	"gz": true, "exe": true, "bin": true, "so": true, "dll": true, "pdf": true,
	"mp4": true, "mp3": true, "wasm": true,
}

// PathScore applies the path-only heuristic: 0 for known binary
// extensions; +5 for documentation paths; +3 for source-code extensions;
// +10 per keyword substring match in the lowercase path.
func PathScore(path string, keywords []string) int {
	lowerPath := strings.ToLower(path)
	ext := extensionOf(lowerPath)

	if binaryExtensions[ext] {
		return 0
	}

	score := 0
	if strings.HasPrefix(lowerPath, "readme") || strings.HasPrefix(lowerPath, "docs/") || ext == "md" {
		score += 5
	} else if indexableExtension(ext) {
		score += 3
	}

	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowerPath, kw) {
			score += 10
		}
	}
	return score
}

func extensionOf(path string) string {
	dot := strings.LastIndex(path, ".")
	if dot < 0 || dot == len(path)-1 {
		return ""
	}
	return path[dot+1:]
}

var sourceExtensions = map[string]bool{
	"rs": true, "py": true, "js": true, "ts": true, "tsx": true, "jsx": true,
	"java": true, "c": true, "cpp": true, "h": true, "hpp": true, "go": true,
	"rb": true, "php": true, "cs": true, "scala": true, "kt": true, "swift": true,
	"sh": true, "vue": true, "svelte": true,
}

func indexableExtension(ext string) bool { return sourceExtensions[ext] }
