package cdi

import (
	"fmt"
	"slices"
	"strings"

	rspec "github.com/opencontainers/runtime-spec/specs-go"
)

// defaultCgroupAccess is granted to block and char nodes without explicit
// permissions.
const defaultCgroupAccess = "rwm"

// hostDeviceInfo is the stat-derived description of a host device node.
type hostDeviceInfo struct {
	devType string
	major   int64
	minor   int64
}

// injector merges records into one runtime spec. It lives for a single
// InjectDevices call and tracks what that call already added.
type injector struct {
	spec       *rspec.Spec
	statDevice func(path string) (hostDeviceInfo, error)

	nodes      map[string]struct{}
	mounts     map[string]struct{}
	commonDone map[string]struct{}
}

func newInjector(spec *rspec.Spec, stat func(string) (hostDeviceInfo, error)) *injector {
	in := &injector{
		spec:       spec,
		statDevice: stat,
		nodes:      make(map[string]struct{}),
		mounts:     make(map[string]struct{}),
		commonDone: make(map[string]struct{}),
	}
	if spec.Linux != nil {
		for _, d := range spec.Linux.Devices {
			in.nodes[nodeKey(d.Path, d.Path)] = struct{}{}
		}
	}
	for _, m := range spec.Mounts {
		in.mounts[m.Destination] = struct{}{}
	}
	return in
}

func nodeKey(host, container string) string {
	return host + "|" + container
}

// editPlan is the fully resolved set of edits for one device.
type editPlan struct {
	commonID string
	nodes    []plannedNode
	mounts   []rspec.Mount
	env      []EnvVar
	hooks    []Hook
	gids     []uint32
}

type plannedNode struct {
	hostPath    string
	device      rspec.LinuxDevice
	permissions string
}

// inject resolves and applies one record. The spec is only modified when
// the whole record could be resolved.
func (in *injector) inject(rec *DeviceRecord) error {
	plan, err := in.plan(rec)
	if err != nil {
		return err
	}
	in.apply(plan)
	return nil
}

// plan converts the record's fragments into OCI values without touching the
// spec. Spec-level edits come first and are planned once per document.
func (in *injector) plan(rec *DeviceRecord) (*editPlan, error) {
	p := &editPlan{}
	fragments := make([]*Fragment, 0, 2)
	if rec.Common != nil && rec.CommonID != "" {
		if _, done := in.commonDone[rec.CommonID]; !done {
			p.commonID = rec.CommonID
			fragments = append(fragments, rec.Common)
		}
	}
	fragments = append(fragments, rec.Fragment)

	for _, f := range fragments {
		if f == nil {
			continue
		}
		for _, d := range f.DeviceNodes {
			node, err := in.planNode(d)
			if err != nil {
				return nil, err
			}
			p.nodes = append(p.nodes, node)
		}
		for _, m := range f.Mounts {
			p.mounts = append(p.mounts, rspec.Mount{
				Destination: m.ContainerPath,
				Type:        m.Type,
				Source:      m.HostPath,
				Options:     slices.Clone(m.Options),
			})
		}
		for _, h := range f.Hooks {
			if _, ok := validHookNames[h.HookName]; !ok {
				return nil, fmt.Errorf("unknown hook name %q", h.HookName)
			}
			p.hooks = append(p.hooks, h)
		}
		p.env = append(p.env, f.Env...)
		p.gids = append(p.gids, f.AdditionalGIDs...)
	}
	return p, nil
}

// planNode fills in type and numbers from the host when the node does not
// carry them.
func (in *injector) planNode(d DeviceNode) (plannedNode, error) {
	host := d.hostPath()
	dev := rspec.LinuxDevice{
		Path:     d.Path,
		Type:     d.Type,
		Major:    d.Major,
		Minor:    d.Minor,
		FileMode: clonePtr(d.FileMode),
		UID:      clonePtr(d.UID),
		GID:      clonePtr(d.GID),
	}

	if dev.Type == "" || (dev.Type != "p" && dev.Major == 0 && dev.Minor == 0) {
		info, err := in.statDevice(host)
		if err != nil {
			return plannedNode{}, fmt.Errorf("device node %q: %w", host, err)
		}
		if dev.Type == "" {
			dev.Type = info.devType
		}
		if dev.Major == 0 && dev.Minor == 0 {
			dev.Major, dev.Minor = info.major, info.minor
		}
	}

	if proc := in.spec.Process; proc != nil {
		if dev.UID == nil && proc.User.UID > 0 {
			uid := proc.User.UID
			dev.UID = &uid
		}
		if dev.GID == nil && proc.User.GID > 0 {
			gid := proc.User.GID
			dev.GID = &gid
		}
	}
	return plannedNode{hostPath: host, device: dev, permissions: d.Permissions}, nil
}

func (in *injector) apply(p *editPlan) {
	spec := in.spec
	if p.commonID != "" {
		in.commonDone[p.commonID] = struct{}{}
	}

	for _, n := range p.nodes {
		key := nodeKey(n.hostPath, n.device.Path)
		if _, seen := in.nodes[key]; seen {
			continue
		}
		in.nodes[key] = struct{}{}

		if spec.Linux == nil {
			spec.Linux = &rspec.Linux{}
		}
		spec.Linux.Devices = append(spec.Linux.Devices, n.device)

		if n.device.Type == "b" || n.device.Type == "c" {
			access := n.permissions
			if access == "" {
				access = defaultCgroupAccess
			}
			if spec.Linux.Resources == nil {
				spec.Linux.Resources = &rspec.LinuxResources{}
			}
			major, minor := n.device.Major, n.device.Minor
			spec.Linux.Resources.Devices = append(spec.Linux.Resources.Devices, rspec.LinuxDeviceCgroup{
				Allow:  true,
				Type:   n.device.Type,
				Major:  &major,
				Minor:  &minor,
				Access: access,
			})
		}
	}

	for _, m := range p.mounts {
		if _, seen := in.mounts[m.Destination]; seen {
			continue
		}
		in.mounts[m.Destination] = struct{}{}
		spec.Mounts = append(spec.Mounts, m)
	}

	if len(p.env) > 0 || len(p.gids) > 0 {
		if spec.Process == nil {
			spec.Process = &rspec.Process{}
		}
	}
	for _, e := range p.env {
		setEnv(spec.Process, e)
	}
	for _, gid := range p.gids {
		if gid == 0 || slices.Contains(spec.Process.User.AdditionalGids, gid) {
			continue
		}
		spec.Process.User.AdditionalGids = append(spec.Process.User.AdditionalGids, gid)
	}

	if len(p.hooks) > 0 && spec.Hooks == nil {
		spec.Hooks = &rspec.Hooks{}
	}
	for _, h := range p.hooks {
		hook := rspec.Hook{
			Path:    h.Path,
			Args:    slices.Clone(h.Args),
			Env:     slices.Clone(h.Env),
			Timeout: clonePtr(h.Timeout),
		}
		switch h.HookName {
		case PrestartHook:
			spec.Hooks.Prestart = append(spec.Hooks.Prestart, hook) //nolint:staticcheck // still honoured by runtimes
		case CreateRuntimeHook:
			spec.Hooks.CreateRuntime = append(spec.Hooks.CreateRuntime, hook)
		case CreateContainerHook:
			spec.Hooks.CreateContainer = append(spec.Hooks.CreateContainer, hook)
		case StartContainerHook:
			spec.Hooks.StartContainer = append(spec.Hooks.StartContainer, hook)
		case PoststartHook:
			spec.Hooks.Poststart = append(spec.Hooks.Poststart, hook)
		case PoststopHook:
			spec.Hooks.Poststop = append(spec.Hooks.Poststop, hook)
		}
	}
}

// setEnv replaces an existing KEY= entry in place or appends a new one.
func setEnv(proc *rspec.Process, e EnvVar) {
	prefix := e.Key + "="
	for i, kv := range proc.Env {
		if strings.HasPrefix(kv, prefix) {
			proc.Env[i] = e.String()
			return
		}
	}
	proc.Env = append(proc.Env, e.String())
}
