// Package prompts holds the resolution prompt templates. The templates live in
// resolution.json, embedded at compile time, and use {{.Field}} placeholders.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Key names one resolution prompt
type Key string

// Prompt keys, one per remote call
const (
	KeySummarize   Key = "summarize"
	KeyFastResolve Key = "fast-resolve"
	KeyDeepResolve Key = "deep-resolve"
	KeySynthesize  Key = "synthesize"
)

// Required lists every key the gateway renders
var Required = []Key{KeySummarize, KeyFastResolve, KeyDeepResolve, KeySynthesize}

//go:embed resolution.json
var resolutionJSON []byte

var placeholderRE = regexp.MustCompile(`\{\{\.(\w+)\}\}`)

var (
	loadOnce  sync.Once
	templates map[Key]string
	loadErr   error
)

func load() (map[Key]string, error) {
	loadOnce.Do(func() {
		templates, loadErr = parse(resolutionJSON)
	})
	return templates, loadErr
}

func parse(data []byte) (map[Key]string, error) {
	var raw map[Key]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	for _, k := range Required {
		if strings.TrimSpace(raw[k]) == "" {
			return nil, fmt.Errorf("prompt %q is missing or empty", k)
		}
	}
	return raw, nil
}

// Check verifies the embedded templates parse and contain every required key
func Check() error {
	_, err := load()
	return err
}

// Template returns the raw template for key
func Template(key Key) (string, error) {
	all, err := load()
	if err != nil {
		return "", err
	}
	tpl, ok := all[key]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", key)
	}
	return tpl, nil
}

// Render fills every placeholder of the key's template from data. A placeholder
// without a value is an error so that no prompt leaves with a literal {{.Field}}.
func Render(key Key, data map[string]string) (string, error) {
	tpl, err := Template(key)
	if err != nil {
		return "", err
	}
	if missing := Placeholders(tpl, data); len(missing) > 0 {
		return "", fmt.Errorf("prompt %q has no value for %s", key, strings.Join(missing, ", "))
	}
	return Fill(tpl, data), nil
}

// Fill substitutes known placeholders and leaves unknown ones untouched
func Fill(tpl string, data map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholderRE.FindStringSubmatch(m)[1]
		if v, ok := data[name]; ok {
			return v
		}
		return m
	})
}

// Placeholders returns the sorted placeholder names in tpl that data does not
// provide. A nil data reports every placeholder.
func Placeholders(tpl string, data map[string]string) []string {
	var missing []string
	for _, m := range placeholderRE.FindAllStringSubmatch(tpl, -1) {
		if _, ok := data[m[1]]; ok || slices.Contains(missing, m[1]) {
			continue
		}
		missing = append(missing, m[1])
	}
	slices.Sort(missing)
	return missing
}

// Keys returns all template keys, sorted
func Keys() ([]Key, error) {
	all, err := load()
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
