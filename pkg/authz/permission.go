package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a set of permission flags.
type Permission uint32

const (
	CreateFile Permission = 1 << iota
	ReadFilePerm
	EditFile
	DeleteFile
	CreateSubDirectory
	DeleteSubDirectory
	ReadTreeDirectory
	WriteFilePerm
	AssignRoles

	// AllPermissions grants everything.
	AllPermissions = CreateFile | ReadFilePerm | EditFile | DeleteFile |
		CreateSubDirectory | DeleteSubDirectory | ReadTreeDirectory |
		WriteFilePerm | AssignRoles
)

var permissionNames = map[Permission]string{
	CreateFile:         "CREATE_FILE",
	ReadFilePerm:       "READ_FILE",
	EditFile:           "EDIT_FILE",
	DeleteFile:         "DELETE_FILE",
	CreateSubDirectory: "CREATE_SUB_DIRECTORY",
	DeleteSubDirectory: "DELETE_SUB_DIRECTORY",
	ReadTreeDirectory:  "READ_TREE_DIRECTORY",
	WriteFilePerm:      "WRITE_FILE",
	AssignRoles:        "ASSIGN_ROLES",
}

// ParsePermission resolves one permission name. "ALL" is accepted as a
// shorthand for every permission.
func ParsePermission(name string) (Permission, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "ALL" {
		return AllPermissions, nil
	}
	for p, n := range permissionNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

// ParsePermissions combines a list of names.
func ParsePermissions(names []string) (Permission, error) {
	var set Permission
	for _, name := range names {
		p, err := ParsePermission(name)
		if err != nil {
			return 0, err
		}
		set |= p
	}
	return set, nil
}

// Has reports whether every flag in want is present.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// Any reports whether at least one flag in want is present.
func (p Permission) Any(want Permission) bool {
	return p&want != 0
}

// Names lists the flag names in p, sorted.
func (p Permission) Names() []string {
	names := make([]string, 0, len(permissionNames))
	for flag, name := range permissionNames {
		if p.Has(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p Permission) String() string {
	if p == 0 {
		return "NONE"
	}
	return strings.Join(p.Names(), "|")
}

// Required returns the flags of which at least one allows op.
func Required(op Operation) Permission {
	switch op {
	case CreateDir:
		return CreateSubDirectory
	case WriteFile:
		return WriteFilePerm | CreateFile | EditFile
	case DeleteItem:
		return DeleteFile | DeleteSubDirectory
	case ReadFile:
		return ReadFilePerm
	case ReadTree:
		return ReadTreeDirectory
	default:
		return 0
	}
}
