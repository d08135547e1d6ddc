package lti

import "strings"

const membershipRolePrefix = "http://purl.imsglobal.org/vocab/lis/v2/membership#"

// Context roles, IMS URI form.
const (
	RoleInstructor    = membershipRolePrefix + "Instructor"
	RoleAdministrator = membershipRolePrefix + "Administrator"
	RoleLearner       = membershipRolePrefix + "Learner"
)

// RoleSet is a set of normalized role URIs.
type RoleSet map[string]struct{}

// NewRoleSet normalizes each role so that "Instructor" and the membership
// URI for Instructor are the same entry.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		if n := normalizeRole(r); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Intersects reports whether any of roles is in the set.
func (s RoleSet) Intersects(roles []string) bool {
	for _, r := range roles {
		if _, ok := s[normalizeRole(r)]; ok {
			return true
		}
	}
	return false
}

var (
	// LaunchRoles may open a resource link.
	LaunchRoles = NewRoleSet(RoleInstructor, RoleAdministrator, RoleLearner, "Instructor", "Administrator", "Learner")
	// DeepLinkRoles may select content.
	DeepLinkRoles = NewRoleSet(RoleInstructor, RoleAdministrator, "Instructor", "Administrator")
)

// normalizeRole accepts full URIs or bare words and yields a URI.
func normalizeRole(in string) string {
	s := strings.TrimSpace(in)
	switch strings.ToLower(s) {
	case "":
		return ""
	case "learner", "student":
		return RoleLearner
	case "instructor", "teacher":
		return RoleInstructor
	case "teachingassistant":
		return membershipRolePrefix + "TeachingAssistant"
	case "contentdeveloper":
		return membershipRolePrefix + "ContentDeveloper"
	case "mentor":
		return membershipRolePrefix + "Mentor"
	case "administrator", "admin":
		return RoleAdministrator
	}
	return s
}
