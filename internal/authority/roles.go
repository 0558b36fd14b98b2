// Package authority describes institutional roles and the permission flags
// that gate authority actions in the dashboards.
package authority

import (
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var rolesYAML []byte

// Permission names a single flag of Permissions.
type Permission string

const (
	IssueCertificates   Permission = "can_issue_certificates"
	ApproveCertificates Permission = "can_approve_certificates"
	CreateEvents        Permission = "can_create_events"
	ManageStudents      Permission = "can_manage_students"
	ManageFaculty       Permission = "can_manage_faculty"
	DeleteEvents        Permission = "can_delete_events"
	ViewAnalytics       Permission = "can_view_analytics"
)

// Permissions are UI gating flags. They are not enforced on review routes.
type Permissions struct {
	CanIssueCertificates   bool `json:"can_issue_certificates" yaml:"can_issue_certificates"`
	CanApproveCertificates bool `json:"can_approve_certificates" yaml:"can_approve_certificates"`
	CanCreateEvents        bool `json:"can_create_events" yaml:"can_create_events"`
	CanManageStudents      bool `json:"can_manage_students" yaml:"can_manage_students"`
	CanManageFaculty       bool `json:"can_manage_faculty" yaml:"can_manage_faculty"`
	CanDeleteEvents        bool `json:"can_delete_events" yaml:"can_delete_events"`
	CanViewAnalytics       bool `json:"can_view_analytics" yaml:"can_view_analytics"`
}

// Has reports whether p grants perm.
func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case IssueCertificates:
		return p.CanIssueCertificates
	case ApproveCertificates:
		return p.CanApproveCertificates
	case CreateEvents:
		return p.CanCreateEvents
	case ManageStudents:
		return p.CanManageStudents
	case ManageFaculty:
		return p.CanManageFaculty
	case DeleteEvents:
		return p.CanDeleteEvents
	case ViewAnalytics:
		return p.CanViewAnalytics
	}
	return false
}

// Value stores Permissions as JSONB.
func (p Permissions) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan reads Permissions from a JSONB column.
func (p *Permissions) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Permissions{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return errors.Errorf("permissions: unsupported scan type %T", src)
}

// Role is an authority type with its default permissions.
type Role struct {
	Type        string      `json:"type" yaml:"-"`
	Label       string      `json:"label" yaml:"label"`
	Description string      `json:"description" yaml:"description"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
}

// Feature is a dashboard section unlocked by a permission.
type Feature struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

var roles = mustLoadRoles(rolesYAML)

func mustLoadRoles(data []byte) map[string]Role {
	out, err := LoadRoles(data)
	if err != nil {
		panic(err)
	}
	return out
}

// LoadRoles parses a YAML role table keyed by authority type.
func LoadRoles(data []byte) (map[string]Role, error) {
	var raw map[string]Role
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse roles")
	}
	for k, r := range raw {
		r.Type = k
		raw[k] = r
	}
	return raw, nil
}

// RoleByType returns the role for an authority type.
func RoleByType(authorityType string) (Role, bool) {
	r, ok := roles[authorityType]
	return r, ok
}

// Roles lists every role ordered by type.
func Roles() []Role {
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// HasPermission is false for nil permissions.
func HasPermission(p *Permissions, perm Permission) bool {
	if p == nil {
		return false
	}
	return p.Has(perm)
}

// User types of signed-in accounts.
const (
	UserStudent   = "student"
	UserTeacher   = "teacher"
	UserAuthority = "authority"
)

func IsAuthority(userType string) bool {
	return userType == UserAuthority
}

// UserTypeFor maps a faculty row's authority type to its user type. Only
// administrators act as authority; every other faculty account is a teacher.
func UserTypeFor(authorityType string) string {
	if authorityType == "admin" {
		return UserAuthority
	}
	return UserTeacher
}

// HasAuthorityAccess requires an authority user with a known authority type.
func HasAuthorityAccess(userType, authorityType string) bool {
	if !IsAuthority(userType) || authorityType == "" {
		return false
	}
	_, ok := roles[authorityType]
	return ok
}

// Features lists the dashboard features of an authority type.
func Features(authorityType string) []Feature {
	role, ok := roles[authorityType]
	if !ok {
		return nil
	}
	p := role.Permissions
	var out []Feature
	if p.CanManageStudents {
		out = append(out, Feature{"student_management", "Student Management", "Manage student profiles and documents", "Users"})
	}
	if p.CanCreateEvents {
		out = append(out, Feature{"event_management", "Event Management", "Create and manage events", "Calendar"})
	}
	if p.CanApproveCertificates {
		out = append(out, Feature{"certificate_approval", "Certificate Approval", "Approve certificate requests", "Award"})
	}
	if p.CanIssueCertificates {
		out = append(out, Feature{"certificate_issuance", "Certificate Issuance", "Issue official certificates", "FileText"})
	}
	if p.CanManageFaculty {
		out = append(out, Feature{"faculty_management", "Faculty Management", "Manage faculty members", "UserCheck"})
	}
	if p.CanViewAnalytics {
		out = append(out, Feature{"analytics", "Analytics & Reports", "View system analytics and reports", "BarChart"})
	}
	return out
}
