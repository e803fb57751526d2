package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// InvalidUnit represents a unit entry that cannot be used
type InvalidUnit struct {
	Index  int
	Name   string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidUnits   []InvalidUnit
	DuplicateNames []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidUnits) > 0 || len(e.DuplicateNames) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidUnits) > 0 {
		sb.WriteString("\nInvalid units:\n")
		for _, u := range e.InvalidUnits {
			name := u.Name
			if name == "" {
				name = "#" + strconv.Itoa(u.Index)
			}
			sb.WriteString(fmt.Sprintf("  - %s: %s\n", name, u.Reason))
		}
	}

	if len(e.DuplicateNames) > 0 {
		sb.WriteString("\nDuplicate unit names:\n")
		for _, n := range e.DuplicateNames {
			sb.WriteString(fmt.Sprintf("  - %s\n", n))
		}
	}

	return sb.String()
}

// ValidateUnits checks names, remotes and retry intervals of all units
func ValidateUnits(units []UnitConfig) error {
	errs := &ValidationErrors{}
	seen := make(map[string]bool)

	for i, u := range units {
		invalid := func(reason string) {
			errs.InvalidUnits = append(errs.InvalidUnits, InvalidUnit{Index: i, Name: u.Name, Reason: reason})
		}

		switch {
		case u.Name == "":
			invalid("name is required")
		case !validName.MatchString(u.Name):
			invalid("name may only contain letters, digits, '.', '_' and '-'")
		case seen[u.Name]:
			errs.DuplicateNames = append(errs.DuplicateNames, u.Name)
		}
		seen[u.Name] = true

		if u.Remote == "" {
			invalid("remote is required")
		} else if host, port, err := net.SplitHostPort(u.Remote); err != nil || host == "" || port == "" {
			invalid(fmt.Sprintf("remote %q is not host:port", u.Remote))
		}

		if u.Retry < 1 {
			invalid("retry must be >= 1 second")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
