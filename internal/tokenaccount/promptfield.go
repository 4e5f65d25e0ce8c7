package tokenaccount

import (
	"encoding/json"
	"fmt"
)

// PromptField decodes a legacy completions request's "prompt" field, which
// the OpenAI API accepts as either a bare string or an array of strings.
type PromptField struct {
	Values []string
}

func (p *PromptField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		p.Values = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		p.Values = []string{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		p.Values = many
		return nil
	}

	return fmt.Errorf("prompt field must be a string, array of strings, or null")
}

func (p PromptField) MarshalJSON() ([]byte, error) {
	if len(p.Values) == 1 {
		return json.Marshal(p.Values[0])
	}
	return json.Marshal(p.Values)
}
