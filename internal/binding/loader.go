package binding

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the layout of the bindings file.
//
//	bindings:
//	  - item: temp1
//	    kind: number
//	    path: 28.A1B2C3D4E5F6/temperature
//	    refresh: 60
type File struct {
	Bindings []Definition `yaml:"bindings"`
}

// LoadFile reads binding definitions from a YAML file.
// Definitions are parsed but not validated; Registry.Replace validates them.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bindings file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing bindings file: %w", err)
	}

	return f.Bindings, nil
}

// LoadInto reads the bindings file and replaces the registry contents.
func LoadInto(r *Registry, path string) error {
	defs, err := LoadFile(path)
	if err != nil {
		return err
	}
	if err := r.Replace(defs); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
