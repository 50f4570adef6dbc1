package config

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"slices"

	"gopkg.in/yaml.v3"
)

var configExtensions = []string{".yaml", ".yml", ".json"}

// MergeFiles reads the given configuration files and directories and merges
// them into a single YAML document. Directories are walked in lexical order
// and only files with a YAML or JSON extension are read from them. Mappings
// merge recursively; other values from later files replace earlier ones, or
// fail the merge when conflictError is set and the values differ.
func MergeFiles(configFiles []string, conflictError bool) ([]byte, error) {
	var paths []string
	for _, f := range configFiles {
		if err := filepath.WalkDir(f, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if path != f && !slices.Contains(configExtensions, filepath.Ext(path)) {
				return nil
			}
			paths = append(paths, path)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	docs := make([]map[string]any, 0, len(paths))
	for _, f := range paths {
		bs, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %v: %w", f, err)
		}
		var x map[string]any
		if err := yaml.Unmarshal(bs, &x); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration file %v: %w", f, err)
		}
		docs = append(docs, x)
	}

	merged, err := merge(docs, "", conflictError)
	if err != nil {
		return nil, err
	}

	bs, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged configuration: %w", err)
	}

	return bs, nil
}

func merge(docs []map[string]any, path string, conflictError bool) (map[string]any, error) {
	result := make(map[string]any)
	for _, doc := range docs {
		for _, key := range slices.Sorted(maps.Keys(doc)) { // Sort keys to ensure deterministic merge errors.
			value := doc[key]
			if existing, ok := result[key]; ok {
				if existingMap, ok1 := existing.(map[string]any); ok1 {
					if valueMap, ok2 := value.(map[string]any); ok2 {
						var err error
						result[key], err = merge([]map[string]any{existingMap, valueMap}, path+"/"+key, conflictError)
						if err != nil {
							return nil, err
						}
						continue
					}
				}

				if conflictError && !reflect.DeepEqual(existing, value) {
					return nil, fmt.Errorf("conflict for config path %s", path+"/"+key)
				}
			}
			result[key] = value
		}
	}
	return result, nil
}
