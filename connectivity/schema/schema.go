// Package schema publishes JSON Schemas for the on-disk artifacts of the
// pipeline so downstream consumers (MATLAB/Python loaders, CI checks) can
// validate cell bundles and subject exports without reading Go code.
package schema

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity/fileutils"
)

const (
	CellBundleFile    = "cell_bundle.schema.json"
	SubjectExportFile = "subject_export.schema.json"
)

// GenerateSchema reflects T into a strict schema: every object property is
// required and unknown properties are rejected. Map-valued objects keep their
// value schema.
func GenerateSchema[T any]() (map[string]interface{}, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	s := reflector.Reflect(v)
	m, err := schemaToMap(s)
	if err != nil {
		return nil, fmt.Errorf("GenerateSchema: %w", err)
	}
	makeStrict(m)
	return m, nil
}

func schemaToMap(s *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

const (
	propertiesKey           = "properties"
	additionalPropertiesKey = "additionalProperties"
	requiredKey             = "required"
	itemsKey                = "items"
)

func makeStrict(s map[string]interface{}) {
	if props, ok := s[propertiesKey].(map[string]interface{}); ok {
		s[additionalPropertiesKey] = false
		required := make([]string, 0, len(props))
		for name, prop := range props {
			required = append(required, name)
			if pm, ok := prop.(map[string]interface{}); ok {
				makeStrict(pm)
			}
		}
		sort.Strings(required)
		if len(required) > 0 {
			s[requiredKey] = required
		}
	}
	if items, ok := s[itemsKey].(map[string]interface{}); ok {
		makeStrict(items)
	}
	if ap, ok := s[additionalPropertiesKey].(map[string]interface{}); ok {
		makeStrict(ap)
	}
}

// WriteSchemas writes the cell bundle and subject export schemas into dir
// and returns the written paths.
func WriteSchemas(dir string) ([]string, error) {
	bundle, err := GenerateSchema[connectivity.CellBundle]()
	if err != nil {
		return nil, err
	}
	export, err := GenerateSchema[connectivity.ExportRecord]()
	if err != nil {
		return nil, err
	}

	var paths []string
	for name, doc := range map[string]map[string]interface{}{
		CellBundleFile:    bundle,
		SubjectExportFile: export,
	} {
		path := filepath.Join(dir, name)
		if err := fileutils.WriteJSONFileAtomic(path, doc, true); err != nil {
			return nil, fmt.Errorf("WriteSchemas: %w", err)
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}
