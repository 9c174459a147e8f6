package triage

import (
	"encoding/json"
	"fmt"

	"github.com/alekspetrov/gitbot/internal/model"
)

// parseLabelArray accepts a bare JSON array, an array inside a fenced code
// block, or prose with an embedded array, and decodes it to label names.
func parseLabelArray(content string) ([]string, error) {
	raw, ok := model.ExtractJSONArray(content)
	if !ok {
		return nil, fmt.Errorf("no JSON array found in model response")
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("failed to parse label array: %w", err)
	}
	return names, nil
}
