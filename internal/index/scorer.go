package index

import (
	"strings"
)

// Section is a contiguous, 1-based line range extracted around a keyword hit.
type Section struct {
	StartLine int
	EndLine   int
	Lines     []string
}

// ContentRelevanceScore sums, over every keyword, the count of lowercase
// substring occurrences of that keyword in text.
func ContentRelevanceScore(text string, keywords []string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		score += strings.Count(lower, strings.ToLower(kw))
	}
	return score
}

// ExtractRelevantSections finds every line whose lowercase form contains
// any keyword, expands each hit to [line-contextLines, line+contextLines]
// (1-based, clamped to the file), and merges overlapping or touching
// ranges into a single section.
func ExtractRelevantSections(text string, keywords []string, contextLines int) []Section {
	if len(keywords) == 0 {
		return nil
	}

	lines := strings.Split(text, "\n")
	lowerKeywords := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw != "" {
			lowerKeywords = append(lowerKeywords, strings.ToLower(kw))
		}
	}
	if len(lowerKeywords) == 0 {
		return nil
	}

	var hits []int // 1-based line numbers
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, kw := range lowerKeywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, i+1)
				break
			}
		}
	}
	if len(hits) == 0 {
		return nil
	}

	type rng struct{ start, end int }
	ranges := make([]rng, 0, len(hits))
	for _, h := range hits {
		start := h - contextLines
		if start < 1 {
			start = 1
		}
		end := h + contextLines
		if end > len(lines) {
			end = len(lines)
		}
		ranges = append(ranges, rng{start, end})
	}

	merged := []rng{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end+1 {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}

	sections := make([]Section, 0, len(merged))
	for _, r := range merged {
		sections = append(sections, Section{
			StartLine: r.start,
			EndLine:   r.end,
			Lines:     append([]string(nil), lines[r.start-1:r.end]...),
		})
	}
	return sections
}
