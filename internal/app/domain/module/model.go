package module

import "time"

// Type classifies what a module provides.
type Type string

const (
	TypeWeb     Type = "Web"
	TypeDb      Type = "Db"
	TypeGeneric Type = "Generic"
)

// ParseType maps a manifest value onto a Type. The empty string and unknown
// values report ok=false.
func ParseType(s string) (Type, bool) {
	switch s {
	case "Web", "web", "WEB":
		return TypeWeb, true
	case "Db", "db", "DB", "database":
		return TypeDb, true
	case "Generic", "generic", "GENERIC":
		return TypeGeneric, true
	default:
		return "", false
	}
}

// Dependency is a named reference to another module and whether the registry
// currently holds it.
type Dependency struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Descriptor describes a compiled application module held by the registry.
// IsResolved and every Dependency.Available are derived from the registry
// contents and are recomputed on each registry mutation.
type Descriptor struct {
	Name         string       `json:"name"`
	Type         Type         `json:"moduleType"`
	IsWebModule  bool         `json:"isWebModule"`
	IsResolved   bool         `json:"isResolved"`
	Dependencies []Dependency `json:"dependencies"`
	Issues       []string     `json:"issues"`
	Script       string       `json:"-"`
	Seq          int64        `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	cp := d
	if d.Dependencies != nil {
		cp.Dependencies = append([]Dependency(nil), d.Dependencies...)
	}
	if d.Issues != nil {
		cp.Issues = append([]string(nil), d.Issues...)
	}
	return cp
}

// MissingDependencies lists the names of unavailable dependencies in
// declaration order.
func (d Descriptor) MissingDependencies() []string {
	var missing []string
	for _, dep := range d.Dependencies {
		if !dep.Available {
			missing = append(missing, dep.Name)
		}
	}
	return missing
}

// HasIssues reports whether validation issues are outstanding.
func (d Descriptor) HasIssues() bool {
	return len(d.Issues) > 0
}

// DependsOn reports whether name appears in the dependency list.
func (d Descriptor) DependsOn(name string) bool {
	for _, dep := range d.Dependencies {
		if dep.Name == name {
			return true
		}
	}
	return false
}
