/*
identity.go - Resolved identity and capability checks

PURPOSE:
  Authentication is an external collaborator: the engine receives an
  already-resolved Identity (user id, role, office sub-role) and trusts it.
  Roles are a closed enumeration, and every privileged operation asks a
  named capability question (CanApproveHours, CanRevertRejection, ...)
  instead of comparing role strings at call sites.

ROLE MODEL:
  student     submits own hours
  supervisor  submits hours for named trainees, reviews their logs
  office      administrative staff; sub-role ADMIN or SUPER_ADMIN
  qa          quality assurance; may approve/reject like office ADMIN
*/
package fieldwork

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles the engine trusts from the external
// identity resolver.
type Role string

const (
	RoleStudent    Role = "student"
	RoleSupervisor Role = "supervisor"
	RoleOffice     Role = "office"
	RoleQA         Role = "qa"
)

// OfficeSubRole refines RoleOffice.
type OfficeSubRole string

const (
	SubRoleNone       OfficeSubRole = ""
	SubRoleAdmin      OfficeSubRole = "ADMIN"
	SubRoleSuperAdmin OfficeSubRole = "SUPER_ADMIN"
)

// ParseRole normalizes and validates a role string from the session layer.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleSupervisor:
		return RoleSupervisor, nil
	case RoleOffice:
		return RoleOffice, nil
	case RoleQA:
		return RoleQA, nil
	}
	return "", fmt.Errorf("unknown role %q: %w", s, ErrValidation)
}

// ParseOfficeSubRole validates an office sub-role string. Empty is valid
// for non-office roles.
func ParseOfficeSubRole(s string) (OfficeSubRole, error) {
	switch OfficeSubRole(strings.ToUpper(strings.TrimSpace(s))) {
	case SubRoleNone:
		return SubRoleNone, nil
	case SubRoleAdmin:
		return SubRoleAdmin, nil
	case SubRoleSuperAdmin:
		return SubRoleSuperAdmin, nil
	}
	return "", fmt.Errorf("unknown office sub-role %q: %w", s, ErrValidation)
}

// Identity is the resolved acting identity for one unit of work.
type Identity struct {
	UserID        UserID
	Role          Role
	OfficeSubRole OfficeSubRole
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// CanSubmitHours: trainees submit for themselves, supervisors for a named
// trainee.
func (id Identity) CanSubmitHours() bool {
	return id.Role == RoleStudent || id.Role == RoleSupervisor
}

// CanApproveHours: the privileged administrative set that may drive
// PENDING/REJECTED -> APPROVED and APPROVED/PENDING -> REJECTED.
func (id Identity) CanApproveHours() bool {
	if id.Role == RoleQA {
		return true
	}
	return id.Role == RoleOffice &&
		(id.OfficeSubRole == SubRoleAdmin || id.OfficeSubRole == SubRoleSuperAdmin)
}

// CanRevertRejection: REJECTED -> PENDING is the highest privilege tier.
func (id Identity) CanRevertRejection() bool {
	return id.Role == RoleOffice && id.OfficeSubRole == SubRoleSuperAdmin
}

// CanEditBillingRate: trainee hourly rates are mutable only at the top tier.
func (id Identity) CanEditBillingRate() bool {
	return id.Role == RoleOffice && id.OfficeSubRole == SubRoleSuperAdmin
}

// CanManageInvoices: invoice generation and payment recording.
func (id Identity) CanManageInvoices() bool {
	return id.Role == RoleOffice
}
