package module

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Modules []*Module `yaml:"modules"`
}

// ParseCatalog reads a catalog from YAML bytes. Both the wrapped form
// (`modules:` list) and a bare top-level list are accepted.
func ParseCatalog(data []byte) (*StaticCatalog, error) {
	var wrapper catalogFile
	if err := yaml.Unmarshal(data, &wrapper); err == nil && len(wrapper.Modules) > 0 {
		return NewStaticCatalog(wrapper.Modules...)
	}

	var list []*Module
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing module catalog: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("module catalog is empty")
	}
	return NewStaticCatalog(list...)
}

// LoadCatalog reads a module catalog from a YAML file.
func LoadCatalog(path string) (*StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading module catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
