package cdi

import (
	"errors"
	"fmt"
	"maps"

	"sigs.k8s.io/yaml"
	"tags.cncf.io/container-device-interface/pkg/parser"
	cdispec "tags.cncf.io/container-device-interface/specs-go"
)

// OCI hook stages a fragment may target.
const (
	PrestartHook        = "prestart"
	CreateRuntimeHook   = "createRuntime"
	CreateContainerHook = "createContainer"
	StartContainerHook  = "startContainer"
	PoststartHook       = "poststart"
	PoststopHook        = "poststop"
)

var validHookNames = map[string]struct{}{
	PrestartHook:        {},
	CreateRuntimeHook:   {},
	CreateContainerHook: {},
	StartContainerHook:  {},
	PoststartHook:       {},
	PoststopHook:        {},
}

var validDeviceTypes = map[string]struct{}{
	"":  {},
	"b": {},
	"c": {},
	"u": {},
	"p": {},
}

// SpecFile is one parsed spec document together with its origin.
type SpecFile struct {
	// Path identifies the document inside its source (file path, row name).
	Path string
	// Spec is the parsed document.
	Spec *cdispec.Spec
}

// ParseSpec decodes a YAML or JSON spec document.
// Field names follow the CDI JSON schema (cdiVersion, kind, devices, ...).
func ParseSpec(data []byte) (*cdispec.Spec, error) {
	var spec cdispec.Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return &spec, nil
}

// ValidateSpec checks a whole spec document, including every device.
// The spec store uses it to refuse documents before they are written.
func ValidateSpec(spec *cdispec.Spec) error {
	if _, err := validateSpecHeader(spec); err != nil {
		return err
	}
	var errs []error
	for i := range spec.Devices {
		if err := validateDevice(&spec.Devices[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// validateSpecHeader validates everything but the devices and returns the
// normalised kind.
func validateSpecHeader(spec *cdispec.Spec) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("%w: empty document", ErrInvalidSpec)
	}
	if err := cdispec.ValidateVersion(spec); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	vendor, class := parser.ParseQualifier(spec.Kind)
	if err := validateVendorName(vendor); err != nil {
		return "", fmt.Errorf("%w: kind %q: %w", ErrInvalidSpec, spec.Kind, err)
	}
	if err := validateClassName(class); err != nil {
		return "", fmt.Errorf("%w: kind %q: %w", ErrInvalidSpec, spec.Kind, err)
	}
	if err := validateEdits(&spec.ContainerEdits); err != nil {
		return "", fmt.Errorf("%w: spec edits: %w", ErrInvalidSpec, err)
	}
	return vendor + "/" + class, nil
}

func validateDevice(d *cdispec.Device) error {
	if err := parser.ValidateDeviceName(d.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if newFragment(&d.ContainerEdits).IsEmpty() {
		return fmt.Errorf("%w: device %q has no edits", ErrInvalidDevice, d.Name)
	}
	if err := validateEdits(&d.ContainerEdits); err != nil {
		return fmt.Errorf("%w: device %q: %w", ErrInvalidDevice, d.Name, err)
	}
	return nil
}

func validateEdits(e *cdispec.ContainerEdits) error {
	if err := validateEnv(e.Env); err != nil {
		return err
	}
	for _, d := range e.DeviceNodes {
		if d == nil {
			continue
		}
		if d.Path == "" {
			return errors.New("device node with empty path")
		}
		if _, ok := validDeviceTypes[d.Type]; !ok {
			return fmt.Errorf("device node %q: invalid type %q", d.Path, d.Type)
		}
		for _, bit := range d.Permissions {
			if bit != 'r' && bit != 'w' && bit != 'm' {
				return fmt.Errorf("device node %q: invalid permissions %q", d.Path, d.Permissions)
			}
		}
	}
	for _, m := range e.Mounts {
		if m == nil {
			continue
		}
		if m.HostPath == "" {
			return errors.New("mount with empty host path")
		}
		if m.ContainerPath == "" {
			return errors.New("mount with empty container path")
		}
	}
	for _, h := range e.Hooks {
		if h == nil {
			continue
		}
		if _, ok := validHookNames[h.HookName]; !ok {
			return fmt.Errorf("invalid hook name %q", h.HookName)
		}
		if h.Path == "" {
			return fmt.Errorf("hook %q with empty path", h.HookName)
		}
		if err := validateEnv(h.Env); err != nil {
			return fmt.Errorf("hook %q: %w", h.HookName, err)
		}
	}
	return nil
}

func validateEnv(env []string) error {
	for _, v := range env {
		if key, _ := splitEnv(v); key == "" || key == v {
			return fmt.Errorf("invalid environment variable %q", v)
		}
	}
	return nil
}

// recordsFromSpec validates a parsed document and converts its devices into
// records. A header failure rejects the whole document; a device failure
// drops only that device. The returned class key is the document kind when
// known, otherwise the document path.
func recordsFromSpec(source string, f *SpecFile) (string, []*DeviceRecord, []error) {
	kind, err := validateSpecHeader(f.Spec)
	if err != nil {
		key := f.Path
		if f.Spec != nil && f.Spec.Kind != "" {
			key = f.Spec.Kind
		}
		return key, nil, []error{err}
	}

	var common *Fragment
	if c := newFragment(&f.Spec.ContainerEdits); !c.IsEmpty() {
		common = c
	}
	commonID := source + "|" + f.Path

	var (
		records []*DeviceRecord
		errs    []error
	)
	for i := range f.Spec.Devices {
		d := &f.Spec.Devices[i]
		if err := validateDevice(d); err != nil {
			errs = append(errs, err)
			continue
		}
		rec := &DeviceRecord{
			Name:        QualifiedName(kind, d.Name),
			Kind:        kind,
			Source:      source,
			Path:        f.Path,
			Annotations: maps.Clone(d.Annotations),
			Fragment:    newFragment(&d.ContainerEdits),
			Common:      common,
		}
		if common != nil {
			rec.CommonID = commonID
		}
		records = append(records, rec)
	}
	return kind, records, errs
}
