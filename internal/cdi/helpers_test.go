package cdi

import (
	"context"
	"sync"

	cdispec "tags.cncf.io/container-device-interface/specs-go"
)

// memSource is an in-memory Source for tests.
type memSource struct {
	id string

	mu    sync.Mutex
	specs []*SpecFile
	errs  []*SpecFileError
	err   error
	loads int
}

func newMemSource(id string, specs ...*cdispec.Spec) *memSource {
	s := &memSource{id: id}
	s.set(specs...)
	return s
}

func (s *memSource) ID() string { return s.id }

func (s *memSource) Load(_ context.Context) (*Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return &Scan{Specs: s.specs, Errors: s.errs}, nil
}

func (s *memSource) set(specs ...*cdispec.Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = nil
	for i, spec := range specs {
		s.specs = append(s.specs, &SpecFile{
			Path: s.id + "/" + string(rune('a'+i)) + ".yaml",
			Spec: spec,
		})
	}
}

func (s *memSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// testSpec builds a valid spec document for kind with one device per
// name. Each device gets a char node /dev/<name> and a mount /mnt/<name>.
func testSpec(kind string, names ...string) *cdispec.Spec {
	spec := &cdispec.Spec{
		Version: cdispec.CurrentVersion,
		Kind:    kind,
	}
	for i, name := range names {
		spec.Devices = append(spec.Devices, cdispec.Device{
			Name: name,
			ContainerEdits: cdispec.ContainerEdits{
				DeviceNodes: []*cdispec.DeviceNode{{
					Path:  "/dev/" + name,
					Type:  "c",
					Major: 195,
					Minor: int64(i),
				}},
				Mounts: []*cdispec.Mount{{
					HostPath:      "/host/" + name,
					ContainerPath: "/mnt/" + name,
					Options:       []string{"ro", "bind"},
				}},
				Env: []string{"DEVICE_" + name + "=1"},
			},
		})
	}
	return spec
}

// recordingObserver collects observer reports.
type recordingObserver struct {
	mu       sync.Mutex
	refresh  []RefreshReport
	injected []InjectReport
}

func (o *recordingObserver) RefreshDone(r RefreshReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refresh = append(o.refresh, r)
}

func (o *recordingObserver) InjectDone(r InjectReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.injected = append(o.injected, r)
}
