package keymap

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	yaml "gopkg.in/yaml.v3"
)

// Format is a keymap file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "yaml", "yml", "toml" and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported keymap format %q", s)
}

// FormatFromPath picks the format by file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

//go:embed keymap.schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/Alia5/kbdfw/keymap.schema.json"

// Schema returns the JSON schema keymaps are validated against.
func Schema() []byte { return bytes.Clone(schemaJSON) }

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Load reads and validates a keymap file.
func Load(path string) (*Keymap, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keymap: %w", err)
	}
	km, err := Parse(data, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return km, nil
}

// Parse decodes and validates a keymap.
func Parse(data []byte, f Format) (*Keymap, error) {
	raw, err := decodeRaw(data, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	raw = normalize(raw)
	stringifyKeycodes(raw)

	js, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	var inst any
	if err := json.Unmarshal(js, &inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile keymap schema: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var km Keymap
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&km); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := km.Tables(); err != nil {
		return nil, err
	}
	return &km, nil
}

func decodeRaw(data []byte, f Format) (any, error) {
	var v any
	switch f {
	case FormatJSON:
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	case FormatTOML:
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, err
		}
		v = tree.ToMap()
	default:
		return nil, fmt.Errorf("unsupported keymap format %q", f)
	}
	return v, nil
}

// normalize turns decoder specific containers into map[string]any and
// []any so the value can go through encoding/json.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case []map[string]any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalize(e)
		}
		return s
	}
	return v
}

// stringifyKeycodes turns bare numbers in key lists and maps into strings,
// so YAML `3` and TOML `3` both mean the key "3".
func stringifyKeycodes(raw any) {
	root, ok := raw.(map[string]any)
	if !ok {
		return
	}
	layers, _ := root["layers"].([]any)
	for _, l := range layers {
		lm, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if keys, ok := lm["keys"].([]any); ok {
			for i, k := range keys {
				keys[i] = scalarString(k)
			}
		}
		if m, ok := lm["map"].(map[string]any); ok {
			for k, c := range m {
				m[k] = scalarString(c)
			}
		}
	}
}

func scalarString(v any) any {
	switch v.(type) {
	case int, int64, uint64, float64:
		return fmt.Sprint(v)
	}
	return v
}

// Marshal encodes the keymap in format f.
func (km *Keymap) Marshal(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(km, "", "  ")
	case FormatYAML:
		return yaml.Marshal(km)
	case FormatTOML:
		m, err := genericMap(km)
		if err != nil {
			return nil, err
		}
		return toml.Marshal(m)
	}
	return nil, fmt.Errorf("unsupported keymap format %q", f)
}

// genericMap renders km as nested maps with integer numbers and table
// arrays typed as []map[string]any, the shape go-toml encodes.
func genericMap(km *Keymap) (map[string]any, error) {
	js, err := json.Marshal(km)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return tomlShape(m).(map[string]any), nil
}

func tomlShape(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = tomlShape(e)
		}
		return t
	case []any:
		tables := make([]map[string]any, 0, len(t))
		for i, e := range t {
			t[i] = tomlShape(e)
			if m, ok := t[i].(map[string]any); ok {
				tables = append(tables, m)
			}
		}
		if len(t) > 0 && len(tables) == len(t) {
			return tables
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}
