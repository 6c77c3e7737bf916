package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFlattenYAML(t *testing.T) {
	keys := make(map[string]struct{})
	flattenYAML("", map[string]interface{}{
		"remedy": map[string]interface{}{"bridge": map[string]interface{}{"crashed": "x"}},
		"cli.copied": "y",
	}, keys)
	for _, k := range []string{"remedy.bridge.crashed", "cli.copied"} {
		if _, ok := keys[k]; !ok {
			t.Fatalf("expected key %s in %v", k, keys)
		}
	}
}

func TestLint(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "a.go"), `package pkg
func f() {
	_ = i18n.T("cli.copied")
	_ = i18n.T("remedy.missing", 1)
	_ = i18n.T("status." + s)
}`)
	writeFile(t, filepath.Join(root, "pkg", "a_test.go"), `package pkg
var _ = i18n.T("only.in.tests")`)
	locales := filepath.Join(root, localesDir)
	writeFile(t, filepath.Join(locales, "en.yaml"), "cli.copied: Copied\ncli.unused: Unused\nstatus.Online: Online\n")
	writeFile(t, filepath.Join(locales, "de.yaml"), "cli.copied: Kopiert\n")

	r, err := lint(root, locales)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if _, ok := r.Missing["remedy.missing"]; !ok || len(r.Missing) != 1 {
		t.Fatalf("unexpected missing keys: %v", r.Missing)
	}
	if len(r.Orphaned) != 1 || r.Orphaned[0] != "cli.unused" {
		t.Fatalf("unexpected orphaned keys: %v", r.Orphaned)
	}
	if got := r.Incomplete["de.yaml"]; len(got) != 2 {
		t.Fatalf("expected de.yaml to lack 2 keys, got %v", got)
	}
	if !r.Failed() {
		t.Fatalf("report with missing keys must fail")
	}
}
