package tracker

import (
	"strings"

	json "github.com/goccy/go-json"
)

// UnmarshalJSON accepts either a JSON array of strings or a single
// comma-separated string, per spec §6: "codes (list or comma string)".
func (sl *StringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*sl = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*sl = nil
		return nil
	}
	parts := strings.Split(single, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	*sl = parts
	return nil
}
