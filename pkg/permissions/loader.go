package permissions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a permission tree from a YAML file. The document mirrors the
// in-memory shape: keys starting with "_" are role overrides holding
// {anyoneCan: <action>}; every other key names a nested sub-layer.
//
//	student:
//	  _default: {anyoneCan: none}
//	  _SchoolAdmin: {anyoneCan: create}
//	  classroom:
//	    _default: {anyoneCan: none}
//	    _SchoolAdmin: {anyoneCan: create}
func LoadFile(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML permission tree
func Parse(data []byte) (*Layer, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}

	root := &Layer{Children: make(map[string]*Layer)}
	for name, node := range doc {
		child, err := parseLayer(name, &node)
		if err != nil {
			return nil, err
		}
		root.Children[name] = child
	}
	return root, nil
}

func parseLayer(path string, node *yaml.Node) (*Layer, error) {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("layer %q is not a mapping: %w", path, err)
	}

	layer := &Layer{
		Overrides: make(map[string]Override),
		Children:  make(map[string]*Layer),
	}
	for key, child := range raw {
		if len(key) > 0 && key[0] == '_' {
			var override Override
			if err := child.Decode(&override); err != nil {
				return nil, fmt.Errorf("override %q in layer %q: %w", key, path, err)
			}
			if !override.AnyoneCan.Valid() {
				return nil, fmt.Errorf("override %q in layer %q names unknown action %q", key, path, override.AnyoneCan)
			}
			layer.Overrides[key] = override
			continue
		}
		sub, err := parseLayer(path+"."+key, &child)
		if err != nil {
			return nil, err
		}
		layer.Children[key] = sub
	}
	return layer, nil
}
