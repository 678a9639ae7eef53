package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes the single `current_in`/`current_not_in`/
// `current_equals`/`current_not_equals` clause present in the mapping.
func (w *WhenCondition) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("when condition: %w", err)
	}
	set := func(kind WhenConditionKind, n yaml.Node, isList bool) error {
		w.Kind = kind
		if isList {
			var list []any
			if err := n.Decode(&list); err != nil {
				return fmt.Errorf("when condition %s: %w", kind, err)
			}
			w.List = list
			return nil
		}
		var value any
		if err := n.Decode(&value); err != nil {
			return fmt.Errorf("when condition %s: %w", kind, err)
		}
		w.Value = value
		return nil
	}
	found := 0
	if n, ok := raw[string(CurrentIn)]; ok {
		found++
		if err := set(CurrentIn, n, true); err != nil {
			return err
		}
	}
	if n, ok := raw[string(CurrentNotIn)]; ok {
		found++
		if err := set(CurrentNotIn, n, true); err != nil {
			return err
		}
	}
	if n, ok := raw[string(CurrentEquals)]; ok {
		found++
		if err := set(CurrentEquals, n, false); err != nil {
			return err
		}
	}
	if n, ok := raw[string(CurrentNotEq)]; ok {
		found++
		if err := set(CurrentNotEq, n, false); err != nil {
			return err
		}
	}
	if found != 1 {
		return fmt.Errorf("when condition must set exactly one of current_in/current_not_in/current_equals/current_not_equals, found %d", found)
	}
	return nil
}

// UnmarshalYAML accepts either a bare scalar/sequence/mapping value
// (always applied) or a `{value, when}` mapping.
func (m *ModelConfigEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode && mappingHasKey(node, "value") {
		var withWhen struct {
			Value any            `yaml:"value"`
			When  *WhenCondition `yaml:"when"`
		}
		if err := node.Decode(&withWhen); err != nil {
			return fmt.Errorf("model config entry: %w", err)
		}
		m.Value = withWhen.Value
		m.When = withWhen.When
		return nil
	}
	var bare any
	if err := node.Decode(&bare); err != nil {
		return fmt.Errorf("model config entry: %w", err)
	}
	m.Value = bare
	m.When = nil
	return nil
}

// UnmarshalYAML flattens a rule's config mapping into dotted leaf paths.
// Nesting via sub-mappings (`reasoning: {effort: {value, when}}`) and
// dotted keys (`reasoning.effort: {value, when}`) decode identically; a
// mapping is a leaf once it carries a `value` key, so a nested condition
// gates only the leaf it sits on.
func (cp *ConfigPatch) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("config patch: expected a mapping")
	}
	out := make(ConfigPatch)
	if err := flattenPatchNode(node, "", out); err != nil {
		return err
	}
	*cp = out
	return nil
}

func flattenPatchNode(node *yaml.Node, prefix string, out ConfigPatch) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}
		if value.Kind == yaml.MappingNode && !mappingHasKey(value, "value") {
			if err := flattenPatchNode(value, path, out); err != nil {
				return err
			}
			continue
		}
		var entry ModelConfigEntry
		if err := value.Decode(&entry); err != nil {
			return fmt.Errorf("config patch %s: %w", path, err)
		}
		out[path] = entry
	}
	return nil
}

func mappingHasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
