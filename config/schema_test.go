package config_test

import (
	"encoding/json"
	"testing"

	ext_config "github.com/open-policy-agent/merge-into-file/config"
)

func TestSchema(t *testing.T) {
	var doc struct {
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(ext_config.Schema(), &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"merges", "hash", "output", "storage"} {
		if _, ok := doc.Properties[key]; !ok {
			t.Errorf("expected schema property %q", key)
		}
	}
}
