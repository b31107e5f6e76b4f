package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// format reads and writes one settings file syntax. Decoding is strict: a key
// that matches no field is an error, so a misspelled setting never falls back
// to its default silently.
type format struct {
	name   string
	decode func(data []byte, target interface{}) error
	encode func(v interface{}) ([]byte, error)
}

var (
	yamlFormat = format{
		name: "YAML",
		decode: func(data []byte, target interface{}) error {
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		},
		encode: yaml.Marshal,
	}

	jsonFormat = format{
		name: "JSON",
		decode: func(data []byte, target interface{}) error {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			return dec.Decode(target)
		},
		encode: func(v interface{}) ([]byte, error) {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return nil, err
			}
			return append(data, '\n'), nil
		},
	}
)

// formatFor picks JSON for .json paths and YAML for everything else
func formatFor(path string) format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return jsonFormat
	}
	return yamlFormat
}

func (f format) load(path string, target interface{}) error {
	// #nosec G304 -- the path comes from the operator's --config flag
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s file %s: %w", f.name, path, err)
	}
	if err := f.decode(data, target); err != nil {
		return fmt.Errorf("parse %s file %s: %w", f.name, path, err)
	}
	return nil
}

// save writes with 0600 since settings hold secrets
func (f format) save(path string, config interface{}) error {
	data, err := f.encode(config)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.name, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s file %s: %w", f.name, path, err)
	}
	return nil
}
