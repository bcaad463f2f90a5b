package cdi

import (
	"fmt"
	"strings"

	"tags.cncf.io/container-device-interface/pkg/parser"
)

// ClassKey returns the error-grouping key for a device name.
//
// For a qualified name "vendor.com/class=device0" the key is
// "vendor.com/class". Names without a "=" separator are returned as-is so
// that errors for malformed requests still land under a stable key.
func ClassKey(name string) string {
	if vendor, class, _, err := parseQualifiedName(name); err == nil {
		return vendor + "/" + class
	}
	if i := strings.IndexByte(name, '='); i > 0 {
		return name[:i]
	}
	return name
}

// QualifiedName joins a kind ("vendor/class") and a device name.
func QualifiedName(kind, device string) string {
	vendor, class := parser.ParseQualifier(kind)
	return parser.QualifiedName(vendor, class, device)
}

// IsQualifiedName reports whether name has the form vendor/class=device with
// every part valid.
func IsQualifiedName(name string) bool {
	_, _, _, err := parseQualifiedName(name)
	return err == nil
}

// parseQualifiedName mirrors parser.ParseQualifiedName using the
// length-safe vendor and class checks below.
func parseQualifiedName(name string) (vendor, class, device string, err error) {
	vendor, class, device = parser.ParseDevice(name)
	switch {
	case vendor == "":
		return "", "", name, fmt.Errorf("unqualified device %q, missing vendor", name)
	case class == "":
		return "", "", name, fmt.Errorf("unqualified device %q, missing class", name)
	case device == "":
		return "", "", name, fmt.Errorf("unqualified device %q, missing device name", name)
	}
	if err := validateVendorName(vendor); err != nil {
		return "", "", name, fmt.Errorf("invalid device %q: %w", name, err)
	}
	if err := validateClassName(class); err != nil {
		return "", "", name, fmt.Errorf("invalid device %q: %w", name, err)
	}
	if err := parser.ValidateDeviceName(device); err != nil {
		return "", "", name, fmt.Errorf("invalid device %q: %w", name, err)
	}
	return vendor, class, device, nil
}

// The parser's vendor and class validators slice name[1:len(name)-1] and
// panic on one-character names, so those are checked here.
func validateVendorName(vendor string) error {
	if len(vendor) == 1 {
		return singleCharName("vendor", vendor)
	}
	return parser.ValidateVendorName(vendor)
}

func validateClassName(class string) error {
	if len(class) == 1 {
		return singleCharName("class", class)
	}
	return parser.ValidateClassName(class)
}

func singleCharName(what, name string) error {
	if !parser.IsLetter(rune(name[0])) {
		return fmt.Errorf("invalid %s. %q, should start with letter", what, name)
	}
	return nil
}
