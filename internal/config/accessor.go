package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toTree renders cfg as the generic map its JSON tags describe.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// section walks every key but the last and returns the map holding the leaf.
func section(tree map[string]any, path string) (map[string]any, string, error) {
	parts := strings.Split(path, ".")
	node := tree
	for _, key := range parts[:len(parts)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("key not found: %s", path)
		}
		node = child
	}
	leaf := parts[len(parts)-1]
	if _, ok := node[leaf]; !ok {
		return nil, "", fmt.Errorf("key not found: %s", path)
	}
	return node, leaf, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "bridge.channelId").
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	node, leaf, err := section(tree, path)
	if err != nil {
		return nil, err
	}
	return node[leaf], nil
}

// SetByPath sets a config value by dot-notation path (e.g. "stream.port").
// The value is converted to the type of the field it replaces.
func SetByPath(cfg *Config, path, value string) error {
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}
	node, leaf, err := section(tree, path)
	if err != nil {
		return err
	}

	switch node[leaf].(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false: %w", path, err)
		}
		node[leaf] = b
	case float64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %w", path, err)
		}
		node[leaf] = n
	case string:
		// Numeric ids stay strings.
		node[leaf] = value
	default:
		return fmt.Errorf("%s is not a settable value", path)
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// Sanitize returns a copy of cfg with credentials masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Discord.Token = maskString(out.Discord.Token)
	out.Slack.BotToken = maskString(out.Slack.BotToken)
	out.Slack.AppToken = maskString(out.Slack.AppToken)
	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path with its current value.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(paths map[string]any) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(path, sub, out)
			continue
		}
		out[path] = v
	}
}
