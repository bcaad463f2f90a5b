package cdi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const gpuSpecYAML = `cdiVersion: "1.0.0"
kind: vendor.com/gpu
devices:
  - name: gpu0
    containerEdits:
      env: ["GPU=0"]
`

const netSpecJSON = `{"cdiVersion":"1.0.0","kind":"vendor.com/net","devices":[{"name":"eth0","containerEdits":{"env":["NET=eth0"]}}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestDirSourceLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-net.json", netSpecJSON)
	writeFile(t, dir, "a-gpu.yaml", gpuSpecYAML)
	writeFile(t, dir, "README.txt", "not a spec")
	broken := writeFile(t, dir, "c-broken.yml", "devices: [")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700); err != nil {
		t.Fatal(err)
	}

	src := NewDirSource(dir + "/")
	if src.ID() != dir {
		t.Errorf("ID() = %q, want cleaned %q", src.ID(), dir)
	}

	scan, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(scan.Specs) != 2 {
		t.Fatalf("Specs = %d, want 2", len(scan.Specs))
	}
	if scan.Specs[0].Spec.Kind != "vendor.com/gpu" || scan.Specs[1].Spec.Kind != "vendor.com/net" {
		t.Errorf("specs not in lexical order: %q, %q", scan.Specs[0].Path, scan.Specs[1].Path)
	}

	if len(scan.Errors) != 1 {
		t.Fatalf("Errors = %d, want 1", len(scan.Errors))
	}
	if scan.Errors[0].Path != broken {
		t.Errorf("error path = %q, want %q", scan.Errors[0].Path, broken)
	}
	if !errors.Is(scan.Errors[0], ErrInvalidSpec) {
		t.Errorf("error = %v, want ErrInvalidSpec", scan.Errors[0])
	}
}

func TestDirSourceMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"))
	_, err := src.Load(context.Background())
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Errorf("Load() error = %v, want ErrSourceUnreadable", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want os.ErrNotExist in chain", err)
	}
}

func TestLoadSourcesOrderAndKeys(t *testing.T) {
	first := newMemSource("first", testSpec("vendor.com/gpu", "gpu0"))
	first.errs = []*SpecFileError{{Path: "first/bad.yaml", Err: ErrInvalidSpec}}

	broken := newMemSource("broken")
	broken.fail(errors.New("permission denied"))

	badDev := testSpec("vendor.com/net", "eth0", "eth1")
	badDev.Devices[1].Name = ""
	second := newMemSource("second", badDev)

	res := loadSources(context.Background(), []Source{first, broken, second})

	if res.readable != 2 {
		t.Errorf("readable = %d, want 2", res.readable)
	}

	var names []string
	for _, r := range res.records {
		names = append(names, r.Name)
	}
	want := []string{"vendor.com/gpu=gpu0", "vendor.com/net=eth0"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("records = %v, want %v", names, want)
	}

	wantKeys := []string{"first/bad.yaml", "broken", "vendor.com/net"}
	if len(res.errs) != len(wantKeys) {
		t.Fatalf("errs = %d, want %d", len(res.errs), len(wantKeys))
	}
	for i, key := range wantKeys {
		if res.errs[i].key != key {
			t.Errorf("errs[%d].key = %q, want %q", i, res.errs[i].key, key)
		}
		var le *LoadError
		if !errors.As(res.errs[i].err, &le) {
			t.Errorf("errs[%d] is %T, want *LoadError", i, res.errs[i].err)
		}
	}
}

func TestDirSourceRefreshOneLetterClass(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a-gpu.yaml", gpuSpecYAML)
	writeFile(t, dir, "b-x.yaml", "cdiVersion: \"1.0.0\"\nkind: vendor.com/x\ndevices:\n  - name: \"0\"\n    containerEdits:\n      env: [\"X=0\"]\n")
	writeFile(t, dir, "c-digit.yaml", "cdiVersion: \"1.0.0\"\nkind: vendor.com/1\ndevices:\n  - name: \"0\"\n    containerEdits:\n      env: [\"D=0\"]\n")

	c, err := NewCache(WithSpecDirs(dir))
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	if err := c.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	want := []string{"vendor.com/gpu=gpu0", "vendor.com/x=0"}
	if got := c.ListDevices(); !slices.Equal(got, want) {
		t.Errorf("ListDevices() = %v, want %v", got, want)
	}
	errs := c.GetErrors()
	if len(errs) != 1 || len(errs["vendor.com/1"]) != 1 {
		t.Errorf("GetErrors() = %v, want one load error under vendor.com/1", errs)
	}
}
