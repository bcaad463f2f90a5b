package cdi

import (
	"errors"
	"testing"

	cdispec "tags.cncf.io/container-device-interface/specs-go"
)

func TestParseSpec(t *testing.T) {
	yamlDoc := []byte(`
cdiVersion: "1.0.0"
kind: vendor.com/gpu
containerEdits:
  env:
    - GPU_DRIVER=1
devices:
  - name: gpu0
    containerEdits:
      deviceNodes:
        - path: /dev/gpu0
          type: c
          major: 195
          minor: 0
      mounts:
        - hostPath: /usr/lib/libgpu.so
          containerPath: /usr/lib/libgpu.so
          options: [ro, bind]
`)
	jsonDoc := []byte(`{"cdiVersion":"1.0.0","kind":"vendor.com/net","devices":[{"name":"eth0","containerEdits":{"env":["NET=eth0"]}}]}`)

	t.Run("yaml", func(t *testing.T) {
		spec, err := ParseSpec(yamlDoc)
		if err != nil {
			t.Fatalf("ParseSpec() error = %v", err)
		}
		if spec.Kind != "vendor.com/gpu" {
			t.Errorf("Kind = %q, want vendor.com/gpu", spec.Kind)
		}
		if len(spec.Devices) != 1 || spec.Devices[0].Name != "gpu0" {
			t.Fatalf("Devices = %+v, want one gpu0", spec.Devices)
		}
		nodes := spec.Devices[0].ContainerEdits.DeviceNodes
		if len(nodes) != 1 || nodes[0].Major != 195 {
			t.Errorf("DeviceNodes = %+v", nodes)
		}
		if err := ValidateSpec(spec); err != nil {
			t.Errorf("ValidateSpec() error = %v", err)
		}
	})

	t.Run("json", func(t *testing.T) {
		spec, err := ParseSpec(jsonDoc)
		if err != nil {
			t.Fatalf("ParseSpec() error = %v", err)
		}
		if spec.Kind != "vendor.com/net" {
			t.Errorf("Kind = %q, want vendor.com/net", spec.Kind)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseSpec([]byte("kind: [unterminated"))
		if !errors.Is(err, ErrInvalidSpec) {
			t.Errorf("ParseSpec() error = %v, want ErrInvalidSpec", err)
		}
	})
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*cdispec.Spec)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*cdispec.Spec) {},
		},
		{
			name:    "nil document",
			wantErr: ErrInvalidSpec,
		},
		{
			name:    "unknown version",
			mutate:  func(s *cdispec.Spec) { s.Version = "9.9.9" },
			wantErr: ErrInvalidSpec,
		},
		{
			name:    "kind without class",
			mutate:  func(s *cdispec.Spec) { s.Kind = "vendor.com" },
			wantErr: ErrInvalidSpec,
		},
		{
			name:   "one-letter vendor and class",
			mutate: func(s *cdispec.Spec) { s.Kind = "v/x" },
		},
		{
			name:    "one-digit class",
			mutate:  func(s *cdispec.Spec) { s.Kind = "vendor.com/1" },
			wantErr: ErrInvalidSpec,
		},
		{
			name:    "one-symbol vendor",
			mutate:  func(s *cdispec.Spec) { s.Kind = "-/gpu" },
			wantErr: ErrInvalidSpec,
		},
		{
			name:   "one-character device name",
			mutate: func(s *cdispec.Spec) { s.Devices[0].Name = "0" },
		},
		{
			name: "spec-level hook with unknown stage",
			mutate: func(s *cdispec.Spec) {
				s.ContainerEdits.Hooks = []*cdispec.Hook{{HookName: "beforeStart", Path: "/bin/true"}}
			},
			wantErr: ErrInvalidSpec,
		},
		{
			name:    "invalid device name",
			mutate:  func(s *cdispec.Spec) { s.Devices[0].Name = "gpu/0" },
			wantErr: ErrInvalidDevice,
		},
		{
			name: "device without edits",
			mutate: func(s *cdispec.Spec) {
				s.Devices[0].ContainerEdits = cdispec.ContainerEdits{}
			},
			wantErr: ErrInvalidDevice,
		},
		{
			name: "env without separator",
			mutate: func(s *cdispec.Spec) {
				s.Devices[0].ContainerEdits.Env = []string{"NOVALUE"}
			},
			wantErr: ErrInvalidDevice,
		},
		{
			name: "bad node permissions",
			mutate: func(s *cdispec.Spec) {
				s.Devices[0].ContainerEdits.DeviceNodes[0].Permissions = "rx"
			},
			wantErr: ErrInvalidDevice,
		},
		{
			name: "bad node type",
			mutate: func(s *cdispec.Spec) {
				s.Devices[0].ContainerEdits.DeviceNodes[0].Type = "x"
			},
			wantErr: ErrInvalidDevice,
		},
		{
			name: "mount without container path",
			mutate: func(s *cdispec.Spec) {
				s.Devices[0].ContainerEdits.Mounts[0].ContainerPath = ""
			},
			wantErr: ErrInvalidDevice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var spec *cdispec.Spec
			if tt.mutate != nil {
				spec = testSpec("vendor.com/gpu", "gpu0")
				tt.mutate(spec)
			}
			err := ValidateSpec(spec)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateSpec() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSpec() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordsFromSpec(t *testing.T) {
	t.Run("invalid device is dropped alone", func(t *testing.T) {
		spec := testSpec("vendor.com/gpu", "gpu0", "gpu1")
		spec.Devices[1].ContainerEdits.Env = []string{"=broken"}

		key, records, errs := recordsFromSpec("src", &SpecFile{Path: "/etc/cdi/gpu.yaml", Spec: spec})
		if key != "vendor.com/gpu" {
			t.Errorf("key = %q, want vendor.com/gpu", key)
		}
		if len(records) != 1 || records[0].Name != "vendor.com/gpu=gpu0" {
			t.Fatalf("records = %+v, want only gpu0", records)
		}
		if len(errs) != 1 || !errors.Is(errs[0], ErrInvalidDevice) {
			t.Errorf("errs = %v, want one ErrInvalidDevice", errs)
		}
		rec := records[0]
		if rec.Source != "src" || rec.Path != "/etc/cdi/gpu.yaml" || rec.Kind != "vendor.com/gpu" {
			t.Errorf("record origin = %q %q %q", rec.Source, rec.Path, rec.Kind)
		}
	})

	t.Run("invalid header rejects document", func(t *testing.T) {
		spec := testSpec("vendor.com/gpu", "gpu0")
		spec.Version = ""

		key, records, errs := recordsFromSpec("src", &SpecFile{Path: "/p.yaml", Spec: spec})
		if key != "vendor.com/gpu" {
			t.Errorf("key = %q, want kind", key)
		}
		if len(records) != 0 || len(errs) != 1 {
			t.Errorf("records = %d errs = %d, want 0 and 1", len(records), len(errs))
		}
	})

	t.Run("one-letter class", func(t *testing.T) {
		spec := testSpec("vendor.com/x", "0")
		key, records, errs := recordsFromSpec("src", &SpecFile{Path: "/p.yaml", Spec: spec})
		if key != "vendor.com/x" || len(errs) != 0 {
			t.Fatalf("key = %q errs = %v", key, errs)
		}
		if len(records) != 1 || records[0].Name != "vendor.com/x=0" {
			t.Errorf("records = %+v, want vendor.com/x=0", records)
		}
	})

	t.Run("one-digit class rejects document", func(t *testing.T) {
		spec := testSpec("vendor.com/7", "gpu0")
		key, records, errs := recordsFromSpec("src", &SpecFile{Path: "/p.yaml", Spec: spec})
		if key != "vendor.com/7" || len(records) != 0 || len(errs) != 1 {
			t.Errorf("key = %q records = %d errs = %d", key, len(records), len(errs))
		}
	})

	t.Run("document without kind is keyed by path", func(t *testing.T) {
		spec := testSpec("", "gpu0")
		key, _, errs := recordsFromSpec("src", &SpecFile{Path: "/p.yaml", Spec: spec})
		if key != "/p.yaml" || len(errs) != 1 {
			t.Errorf("key = %q errs = %d, want /p.yaml and 1", key, len(errs))
		}
	})

	t.Run("spec-level edits are shared", func(t *testing.T) {
		spec := testSpec("vendor.com/gpu", "gpu0", "gpu1")
		spec.ContainerEdits.Env = []string{"SHARED=1"}

		_, records, _ := recordsFromSpec("src", &SpecFile{Path: "/p.yaml", Spec: spec})
		if len(records) != 2 {
			t.Fatalf("records = %d, want 2", len(records))
		}
		if records[0].Common == nil || records[0].CommonID == "" {
			t.Fatal("Common not set")
		}
		if records[0].CommonID != records[1].CommonID {
			t.Errorf("CommonID differs: %q vs %q", records[0].CommonID, records[1].CommonID)
		}
	})
}

func TestNewFragmentEnvOverride(t *testing.T) {
	f := newFragment(&cdispec.ContainerEdits{Env: []string{"A=1", "B=2", "A=3", "C=x=y"}})
	want := []EnvVar{{"A", "3"}, {"B", "2"}, {"C", "x=y"}}
	if len(f.Env) != len(want) {
		t.Fatalf("Env = %v, want %v", f.Env, want)
	}
	for i := range want {
		if f.Env[i] != want[i] {
			t.Errorf("Env[%d] = %v, want %v", i, f.Env[i], want[i])
		}
	}
}

func TestDeviceRecordDeepCopy(t *testing.T) {
	_, records, _ := recordsFromSpec("src", &SpecFile{Path: "/p.yaml", Spec: testSpec("vendor.com/gpu", "gpu0")})
	orig := records[0]
	cpy := orig.DeepCopy()

	cpy.Fragment.Mounts[0].Options[0] = "rw"
	cpy.Fragment.DeviceNodes[0].Path = "/dev/other"

	if orig.Fragment.Mounts[0].Options[0] != "ro" {
		t.Error("mount options shared between copy and original")
	}
	if orig.Fragment.DeviceNodes[0].Path != "/dev/gpu0" {
		t.Error("device nodes shared between copy and original")
	}
}
