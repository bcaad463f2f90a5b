package cdi

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	rspec "github.com/opencontainers/runtime-spec/specs-go"
	cdispec "tags.cncf.io/container-device-interface/specs-go"
)

// newTestCache returns a refreshed cache over the given sources.
func newTestCache(t *testing.T, sources ...Source) *Cache {
	t.Helper()
	opts := make([]Option, 0, len(sources))
	for _, s := range sources {
		opts = append(opts, WithSource(s))
	}
	c, err := NewCache(opts...)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	if err := c.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	return c
}

func TestInjectDevicesPartial(t *testing.T) {
	c := newTestCache(t, newMemSource("src", testSpec("vendor.com/gpu", "a", "c")))

	spec := &rspec.Spec{}
	injected, err := c.InjectDevices(spec, "vendor.com/gpu=a", "vendor.com/gpu=b", "vendor.com/gpu=c")

	if want := []string{"vendor.com/gpu=a", "vendor.com/gpu=c"}; !slices.Equal(injected, want) {
		t.Errorf("injected = %v, want %v", injected, want)
	}

	var ierr *InjectionError
	if !errors.As(err, &ierr) {
		t.Fatalf("error = %v, want *InjectionError", err)
	}
	if !slices.Equal(ierr.Unresolved, []string{"vendor.com/gpu=b"}) || len(ierr.Failed) != 0 {
		t.Errorf("Unresolved = %v Failed = %v", ierr.Unresolved, ierr.Failed)
	}
	if !errors.Is(err, ErrUnresolvedDevice) {
		t.Errorf("error = %v, want ErrUnresolvedDevice in chain", err)
	}

	var paths []string
	for _, d := range spec.Linux.Devices {
		paths = append(paths, d.Path)
	}
	if want := []string{"/dev/a", "/dev/c"}; !slices.Equal(paths, want) {
		t.Errorf("device paths = %v, want %v", paths, want)
	}
	if want := []string{"DEVICE_a=1", "DEVICE_c=1"}; !slices.Equal(spec.Process.Env, want) {
		t.Errorf("env = %v, want %v", spec.Process.Env, want)
	}

	errs := c.GetErrors()
	if len(errs["vendor.com/gpu"]) != 1 {
		t.Errorf("GetErrors() = %v, want one error under vendor.com/gpu", errs)
	}
}

func TestInjectDevicesDeduplicates(t *testing.T) {
	c := newTestCache(t, newMemSource("src", testSpec("vendor.com/gpu", "a")))

	spec := &rspec.Spec{}
	injected, err := c.InjectDevices(spec, "vendor.com/gpu=a", "vendor.com/gpu=a")
	if err != nil {
		t.Fatalf("InjectDevices() error = %v", err)
	}
	if !slices.Equal(injected, []string{"vendor.com/gpu=a"}) {
		t.Errorf("injected = %v", injected)
	}
	if len(spec.Linux.Devices) != 1 || len(spec.Mounts) != 1 {
		t.Errorf("devices = %d mounts = %d, want 1 and 1", len(spec.Linux.Devices), len(spec.Mounts))
	}

	// A second call over the same spec must not duplicate either.
	if _, err := c.InjectDevices(spec, "vendor.com/gpu=a"); err != nil {
		t.Fatalf("second InjectDevices() error = %v", err)
	}
	if len(spec.Linux.Devices) != 1 || len(spec.Mounts) != 1 {
		t.Errorf("after second call devices = %d mounts = %d, want 1 and 1",
			len(spec.Linux.Devices), len(spec.Mounts))
	}
}

func TestInjectDevicesMergeRules(t *testing.T) {
	timeout := 5
	spec1 := &cdispec.Spec{
		Version: cdispec.CurrentVersion,
		Kind:    "vendor.com/gpu",
		ContainerEdits: cdispec.ContainerEdits{
			Env:            []string{"DRIVER=gpu"},
			AdditionalGIDs: []uint32{44},
		},
		Devices: []cdispec.Device{
			{
				Name: "gpu0",
				ContainerEdits: cdispec.ContainerEdits{
					Env: []string{"MODE=first", "ONLY0=yes"},
					DeviceNodes: []*cdispec.DeviceNode{
						{Path: "/dev/gpu0", Type: "c", Major: 195, Minor: 0, Permissions: "rw"},
						{Path: "/dev/gpuctl", Type: "c", Major: 195, Minor: 255},
					},
					Mounts: []*cdispec.Mount{
						{HostPath: "/lib/a.so", ContainerPath: "/usr/lib/gpu.so", Options: []string{"ro"}},
					},
					Hooks: []*cdispec.Hook{
						{HookName: CreateContainerHook, Path: "/bin/hook0", Timeout: &timeout},
					},
				},
			},
			{
				Name: "gpu1",
				ContainerEdits: cdispec.ContainerEdits{
					Env: []string{"MODE=second"},
					DeviceNodes: []*cdispec.DeviceNode{
						{Path: "/dev/gpu1", Type: "c", Major: 195, Minor: 1},
						{Path: "/dev/gpuctl", Type: "c", Major: 195, Minor: 255},
					},
					Mounts: []*cdispec.Mount{
						{HostPath: "/lib/b.so", ContainerPath: "/usr/lib/gpu.so"},
					},
					Hooks: []*cdispec.Hook{
						{HookName: PoststopHook, Path: "/bin/cleanup"},
						{HookName: CreateContainerHook, Path: "/bin/hook1"},
					},
					AdditionalGIDs: []uint32{44, 45},
				},
			},
		},
	}
	c := newTestCache(t, newMemSource("src", spec1))

	spec := &rspec.Spec{
		Process: &rspec.Process{
			Env:  []string{"PATH=/bin", "MODE=original"},
			User: rspec.User{UID: 1000, GID: 1000},
		},
		Mounts: []rspec.Mount{{Destination: "/proc", Type: "proc", Source: "proc"}},
	}

	injected, err := c.InjectDevices(spec, "vendor.com/gpu=gpu0", "vendor.com/gpu=gpu1")
	if err != nil {
		t.Fatalf("InjectDevices() error = %v", err)
	}
	if len(injected) != 2 {
		t.Fatalf("injected = %v", injected)
	}

	uid, gid := uint32(1000), uint32(1000)
	major := int64(195)
	minor0, minorCtl, minor1 := int64(0), int64(255), int64(1)
	want := &rspec.Spec{
		Process: &rspec.Process{
			Env:  []string{"PATH=/bin", "MODE=second", "DRIVER=gpu", "ONLY0=yes"},
			User: rspec.User{UID: 1000, GID: 1000, AdditionalGids: []uint32{44, 45}},
		},
		Mounts: []rspec.Mount{
			{Destination: "/proc", Type: "proc", Source: "proc"},
			{Destination: "/usr/lib/gpu.so", Source: "/lib/a.so", Options: []string{"ro"}},
		},
		Hooks: &rspec.Hooks{
			CreateContainer: []rspec.Hook{
				{Path: "/bin/hook0", Timeout: &timeout},
				{Path: "/bin/hook1"},
			},
			Poststop: []rspec.Hook{{Path: "/bin/cleanup"}},
		},
		Linux: &rspec.Linux{
			Devices: []rspec.LinuxDevice{
				{Path: "/dev/gpu0", Type: "c", Major: 195, Minor: 0, UID: &uid, GID: &gid},
				{Path: "/dev/gpuctl", Type: "c", Major: 195, Minor: 255, UID: &uid, GID: &gid},
				{Path: "/dev/gpu1", Type: "c", Major: 195, Minor: 1, UID: &uid, GID: &gid},
			},
			Resources: &rspec.LinuxResources{
				Devices: []rspec.LinuxDeviceCgroup{
					{Allow: true, Type: "c", Major: &major, Minor: &minor0, Access: "rw"},
					{Allow: true, Type: "c", Major: &major, Minor: &minorCtl, Access: "rwm"},
					{Allow: true, Type: "c", Major: &major, Minor: &minor1, Access: "rwm"},
				},
			},
		},
	}
	if diff := cmp.Diff(want, spec); diff != "" {
		t.Errorf("injected spec mismatch (-want +got):\n%s", diff)
	}
}

func TestInjectDevicesExistingDevicesCount(t *testing.T) {
	c := newTestCache(t, newMemSource("src", testSpec("vendor.com/gpu", "a")))

	spec := &rspec.Spec{
		Linux:  &rspec.Linux{Devices: []rspec.LinuxDevice{{Path: "/dev/a", Type: "c", Major: 1, Minor: 1}}},
		Mounts: []rspec.Mount{{Destination: "/mnt/a", Source: "/elsewhere"}},
	}
	if _, err := c.InjectDevices(spec, "vendor.com/gpu=a"); err != nil {
		t.Fatalf("InjectDevices() error = %v", err)
	}
	if len(spec.Linux.Devices) != 1 || spec.Linux.Devices[0].Major != 1 {
		t.Errorf("devices = %+v, want the pre-existing node only", spec.Linux.Devices)
	}
	if len(spec.Mounts) != 1 || spec.Mounts[0].Source != "/elsewhere" {
		t.Errorf("mounts = %+v, want the pre-existing mount only", spec.Mounts)
	}
}

func TestInjectDevicesStatFailure(t *testing.T) {
	bad := testSpec("vendor.com/gpu", "a", "b")
	bad.Devices[1].ContainerEdits.DeviceNodes[0] = &cdispec.DeviceNode{Path: "/dev/b"}
	c := newTestCache(t, newMemSource("src", bad))
	c.statDevice = func(path string) (hostDeviceInfo, error) {
		return hostDeviceInfo{}, errors.New("no such device")
	}

	spec := &rspec.Spec{}
	injected, err := c.InjectDevices(spec, "vendor.com/gpu=b", "vendor.com/gpu=a")
	if !slices.Equal(injected, []string{"vendor.com/gpu=a"}) {
		t.Errorf("injected = %v, want only a", injected)
	}

	var ierr *InjectionError
	if !errors.As(err, &ierr) || !slices.Equal(ierr.Failed, []string{"vendor.com/gpu=b"}) {
		t.Fatalf("error = %v, want b in Failed", err)
	}
	if !errors.Is(err, ErrInjectionFailed) {
		t.Errorf("error = %v, want ErrInjectionFailed", err)
	}

	// Nothing of b may leak into the spec.
	for _, m := range spec.Mounts {
		if m.Destination == "/mnt/b" {
			t.Error("mount of failed device was applied")
		}
	}
	if slices.Contains(spec.Process.Env, "DEVICE_b=1") {
		t.Error("env of failed device was applied")
	}
}

func TestInjectDevicesFillsHostInfo(t *testing.T) {
	doc := testSpec("vendor.com/gpu", "a")
	doc.Devices[0].ContainerEdits.DeviceNodes[0] = &cdispec.DeviceNode{Path: "/dev/a", HostPath: "/dev/host-a"}
	c := newTestCache(t, newMemSource("src", doc))

	var statted string
	c.statDevice = func(path string) (hostDeviceInfo, error) {
		statted = path
		return hostDeviceInfo{devType: "b", major: 8, minor: 16}, nil
	}

	spec := &rspec.Spec{}
	if _, err := c.InjectDevices(spec, "vendor.com/gpu=a"); err != nil {
		t.Fatalf("InjectDevices() error = %v", err)
	}
	if statted != "/dev/host-a" {
		t.Errorf("stat path = %q, want host path", statted)
	}
	d := spec.Linux.Devices[0]
	if d.Type != "b" || d.Major != 8 || d.Minor != 16 {
		t.Errorf("device = %+v, want b 8:16", d)
	}
	if len(spec.Linux.Resources.Devices) != 1 || spec.Linux.Resources.Devices[0].Type != "b" {
		t.Errorf("cgroup rules = %+v", spec.Linux.Resources.Devices)
	}
}

func TestInjectDevicesNilSpec(t *testing.T) {
	c := newTestCache(t, newMemSource("src", testSpec("vendor.com/gpu", "a")))
	_, err := c.InjectDevices(nil, "vendor.com/gpu=a")
	if !errors.Is(err, ErrNilSpec) {
		t.Errorf("error = %v, want ErrNilSpec", err)
	}
	if len(c.GetErrors()) != 0 {
		t.Errorf("ledger = %v, want empty", c.GetErrors())
	}
}

func TestInjectDevicesMalformedName(t *testing.T) {
	c := newTestCache(t, newMemSource("src", testSpec("vendor.com/gpu", "a")))
	_, err := c.InjectDevices(&rspec.Spec{}, "not-qualified")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(c.GetErrors()["not-qualified"]) != 1 {
		t.Errorf("GetErrors() = %v, want entry under the raw name", c.GetErrors())
	}
}

func TestInjectDevicesShortNames(t *testing.T) {
	c := newTestCache(t, newMemSource("src", testSpec("v/x", "0")))

	spec := &rspec.Spec{}
	injected, err := c.InjectDevices(spec, "v/x=0", "a/b=c", "1/b=c")
	if !slices.Equal(injected, []string{"v/x=0"}) {
		t.Errorf("injected = %v, want [v/x=0]", injected)
	}

	var ierr *InjectionError
	if !errors.As(err, &ierr) {
		t.Fatalf("error = %v, want *InjectionError", err)
	}
	if !slices.Equal(ierr.Unresolved, []string{"a/b=c", "1/b=c"}) {
		t.Errorf("Unresolved = %v", ierr.Unresolved)
	}

	errs := c.GetErrors()
	if len(errs["a/b"]) != 1 || len(errs["1/b"]) != 1 {
		t.Errorf("GetErrors() = %v, want one error under a/b and one under 1/b", errs)
	}
}
