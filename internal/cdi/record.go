package cdi

import (
	"maps"
	"os"
	"slices"
	"strings"

	cdispec "tags.cncf.io/container-device-interface/specs-go"
)

// DeviceRecord is one resolvable device of a registry generation.
// Records are immutable once built; GetDevice hands out deep copies.
type DeviceRecord struct {
	// Name is the fully-qualified device name (vendor/class=device).
	Name string `json:"name"`

	// Kind is the vendor/class prefix, also used as the error class key.
	Kind string `json:"kind"`

	// Source is the ID of the spec source the record came from.
	Source string `json:"source"`

	// Path is the spec document the record was parsed from.
	Path string `json:"path"`

	// Annotations are the device-level annotations of the spec document.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Fragment holds the device-level edits.
	Fragment *Fragment `json:"fragment"`

	// Common holds the spec-level edits shared by all devices of the same
	// document. It is nil when the document has no spec-level edits.
	Common *Fragment `json:"common,omitempty"`

	// CommonID identifies the document Common belongs to, so the shared
	// edits are applied once per injection call.
	CommonID string `json:"common_id,omitempty"`
}

// Fragment is the set of runtime spec modifications of one device or one
// spec document.
type Fragment struct {
	DeviceNodes    []DeviceNode `json:"device_nodes,omitempty"`
	Mounts         []Mount      `json:"mounts,omitempty"`
	Env            []EnvVar     `json:"env,omitempty"`
	Hooks          []Hook       `json:"hooks,omitempty"`
	AdditionalGIDs []uint32     `json:"additional_gids,omitempty"`
}

// DeviceNode describes a device node to create in the container.
type DeviceNode struct {
	// Path is the device path inside the container.
	Path string `json:"path"`
	// HostPath is the device path on the host; empty means same as Path.
	HostPath    string       `json:"host_path,omitempty"`
	Type        string       `json:"type,omitempty"`
	Major       int64        `json:"major,omitempty"`
	Minor       int64        `json:"minor,omitempty"`
	FileMode    *os.FileMode `json:"file_mode,omitempty"`
	Permissions string       `json:"permissions,omitempty"`
	UID         *uint32      `json:"uid,omitempty"`
	GID         *uint32      `json:"gid,omitempty"`
}

// hostPath returns the effective host side of the node.
func (d DeviceNode) hostPath() string {
	if d.HostPath != "" {
		return d.HostPath
	}
	return d.Path
}

// Mount describes a bind or typed mount.
type Mount struct {
	HostPath      string   `json:"host_path"`
	ContainerPath string   `json:"container_path"`
	Type          string   `json:"type,omitempty"`
	Options       []string `json:"options,omitempty"`
}

// EnvVar is a single environment assignment.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// String renders the variable in KEY=VALUE form.
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

// Hook is an OCI lifecycle hook to add to the container.
type Hook struct {
	HookName string   `json:"hook_name"`
	Path     string   `json:"path"`
	Args     []string `json:"args,omitempty"`
	Env      []string `json:"env,omitempty"`
	Timeout  *int     `json:"timeout,omitempty"`
}

// IsEmpty reports whether the fragment carries no edits.
func (f *Fragment) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.DeviceNodes) == 0 && len(f.Mounts) == 0 && len(f.Env) == 0 &&
		len(f.Hooks) == 0 && len(f.AdditionalGIDs) == 0
}

// DeepCopy returns an independent copy of the fragment.
func (f *Fragment) DeepCopy() *Fragment {
	if f == nil {
		return nil
	}
	cpy := &Fragment{
		Env:            slices.Clone(f.Env),
		AdditionalGIDs: slices.Clone(f.AdditionalGIDs),
	}
	if f.DeviceNodes != nil {
		cpy.DeviceNodes = make([]DeviceNode, len(f.DeviceNodes))
		for i, d := range f.DeviceNodes {
			d.FileMode = clonePtr(d.FileMode)
			d.UID = clonePtr(d.UID)
			d.GID = clonePtr(d.GID)
			cpy.DeviceNodes[i] = d
		}
	}
	if f.Mounts != nil {
		cpy.Mounts = make([]Mount, len(f.Mounts))
		for i, m := range f.Mounts {
			m.Options = slices.Clone(m.Options)
			cpy.Mounts[i] = m
		}
	}
	if f.Hooks != nil {
		cpy.Hooks = make([]Hook, len(f.Hooks))
		for i, h := range f.Hooks {
			h.Args = slices.Clone(h.Args)
			h.Env = slices.Clone(h.Env)
			h.Timeout = clonePtr(h.Timeout)
			cpy.Hooks[i] = h
		}
	}
	return cpy
}

// DeepCopy returns an independent copy of the record.
func (r *DeviceRecord) DeepCopy() *DeviceRecord {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.Annotations = maps.Clone(r.Annotations)
	cpy.Fragment = r.Fragment.DeepCopy()
	cpy.Common = r.Common.DeepCopy()
	return &cpy
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// newFragment converts CDI container edits into a fragment.
// Env entries are split on the first "="; a later entry for the same key
// replaces the earlier value but keeps its position.
func newFragment(e *cdispec.ContainerEdits) *Fragment {
	if e == nil {
		return &Fragment{}
	}
	f := &Fragment{
		AdditionalGIDs: slices.Clone(e.AdditionalGIDs),
	}

	index := make(map[string]int, len(e.Env))
	for _, kv := range e.Env {
		key, value := splitEnv(kv)
		if i, ok := index[key]; ok {
			f.Env[i].Value = value
			continue
		}
		index[key] = len(f.Env)
		f.Env = append(f.Env, EnvVar{Key: key, Value: value})
	}

	for _, d := range e.DeviceNodes {
		if d == nil {
			continue
		}
		f.DeviceNodes = append(f.DeviceNodes, DeviceNode{
			Path:        d.Path,
			HostPath:    d.HostPath,
			Type:        d.Type,
			Major:       d.Major,
			Minor:       d.Minor,
			FileMode:    clonePtr(d.FileMode),
			Permissions: d.Permissions,
			UID:         clonePtr(d.UID),
			GID:         clonePtr(d.GID),
		})
	}

	for _, m := range e.Mounts {
		if m == nil {
			continue
		}
		f.Mounts = append(f.Mounts, Mount{
			HostPath:      m.HostPath,
			ContainerPath: m.ContainerPath,
			Type:          m.Type,
			Options:       slices.Clone(m.Options),
		})
	}

	for _, h := range e.Hooks {
		if h == nil {
			continue
		}
		f.Hooks = append(f.Hooks, Hook{
			HookName: h.HookName,
			Path:     h.Path,
			Args:     slices.Clone(h.Args),
			Env:      slices.Clone(h.Env),
			Timeout:  clonePtr(h.Timeout),
		})
	}

	return f
}

// splitEnv splits KEY=VALUE on the first "=".
func splitEnv(kv string) (key, value string) {
	key, value, _ = strings.Cut(kv, "=")
	return key, value
}
