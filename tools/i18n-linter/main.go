// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the operator message catalog against the source tree.
// Every literal i18n.T key must exist in the primary catalog; catalog keys
// nobody references are reported as orphaned. Keys built at runtime from a
// known prefix (status labels, session states) are exempt.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
)

// dynamicPrefixes are completed at runtime, e.g. "status." + string(status).
var dynamicPrefixes = []string{"status.", "state."}

var keyCall = regexp.MustCompile(`i18n\.T\("([^"]+)"\s*[,)]`)

// Location is where a key is used.
type Location struct {
	Filepath string
	Line     int
}

// Report is the outcome of one lint run.
type Report struct {
	Missing  map[string][]Location
	Orphaned []string
	// Incomplete lists, per secondary locale, keys it lacks.
	Incomplete map[string][]string
}

// Failed reports whether the catalog is unusable as is.
func (r Report) Failed() bool {
	if len(r.Missing) > 0 {
		return true
	}
	for _, keys := range r.Incomplete {
		if len(keys) > 0 {
			return true
		}
	}
	return false
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	r, err := lint(root, filepath.Join(root, localesDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}

	var missing []string
	for k := range r.Missing {
		missing = append(missing, k)
	}
	sort.Strings(missing)
	for _, k := range missing {
		loc := r.Missing[k][0]
		fmt.Printf("missing: %s (%s:%d)\n", k, loc.Filepath, loc.Line)
	}
	for _, k := range r.Orphaned {
		fmt.Printf("orphaned: %s\n", k)
	}
	for file, keys := range r.Incomplete {
		for _, k := range keys {
			fmt.Printf("untranslated in %s: %s\n", file, k)
		}
	}
	if r.Failed() {
		os.Exit(1)
	}
}

func lint(root, locales string) (Report, error) {
	used, err := findUsedKeys(root)
	if err != nil {
		return Report{}, err
	}
	primary, err := loadKeysFromLocale(filepath.Join(locales, primaryLocale))
	if err != nil {
		return Report{}, fmt.Errorf("load %s: %w", primaryLocale, err)
	}

	r := Report{Missing: make(map[string][]Location), Incomplete: make(map[string][]string)}
	for k, locs := range used {
		if _, ok := primary[k]; !ok {
			r.Missing[k] = locs
		}
	}
	for k := range primary {
		if _, ok := used[k]; ok || isDynamic(k) {
			continue
		}
		r.Orphaned = append(r.Orphaned, k)
	}
	sort.Strings(r.Orphaned)

	files, err := filepath.Glob(filepath.Join(locales, "*.yaml"))
	if err != nil {
		return Report{}, err
	}
	for _, f := range files {
		if filepath.Base(f) == primaryLocale {
			continue
		}
		keys, err := loadKeysFromLocale(f)
		if err != nil {
			return Report{}, fmt.Errorf("load %s: %w", f, err)
		}
		var lacking []string
		for k := range primary {
			if _, ok := keys[k]; !ok {
				lacking = append(lacking, k)
			}
		}
		sort.Strings(lacking)
		r.Incomplete[filepath.Base(f)] = lacking
	}
	return r, nil
}

func isDynamic(key string) bool {
	for _, p := range dynamicPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// findUsedKeys collects literal i18n.T keys from non-test Go files.
func findUsedKeys(root string) (map[string][]Location, error) {
	keys := make(map[string][]Location)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "tools", "_examples", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(content), "\n") {
			for _, m := range keyCall.FindAllStringSubmatch(line, -1) {
				keys[m[1]] = append(keys[m[1]], Location{Filepath: path, Line: i + 1})
			}
		}
		return nil
	})
	return keys, err
}

// loadKeysFromLocale reads a catalog and returns its flattened keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML turns nested maps into dot-separated keys. go-i18n accepts
// both the flat and the nested form.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}
