package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidName is returned when an identifier fails the naming policy.
// Callers must treat it as a validation failure and reject before any SQL runs.
var ErrInvalidName = errors.New("invalid identifier")

var (
	roleNameRE     = regexp.MustCompile(`^[a-z0-9_]+$`)
	databaseNameRE = regexp.MustCompile(`^[a-zA-Z_][a-z0-9_]+$`)
)

// ValidateRoleName enforces the policy for every identifier we interpolate
// into DDL text: lowercase letters, digits and underscore, 3 to 63 characters.
// Role and database names cannot be bound as statement parameters, so this
// check is the single injection defense shared by all DDL-building code.
func ValidateRoleName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("%w: %q must be 3-63 characters", ErrInvalidName, name)
	}
	if !roleNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q may only contain [a-z0-9_]", ErrInvalidName, name)
	}
	return nil
}

// ValidateDatabaseName checks a caller-requested logical database name:
// 3 to 40 characters, leading letter or underscore, [a-z0-9_] thereafter.
// Mixed-case input is accepted here and folded to lowercase by
// DeriveDatabaseName so the final identifier always satisfies ValidateRoleName.
func ValidateDatabaseName(name string) error {
	if len(name) < 3 || len(name) > 40 {
		return fmt.Errorf("%w: %q must be 3-40 characters", ErrInvalidName, name)
	}
	if !databaseNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter or underscore followed by [a-z0-9_]", ErrInvalidName, name)
	}
	return nil
}

// DeriveDatabaseName builds the cluster-wide database name from the requested
// logical name and the tenant's role suffix. The result is re-validated under
// the stricter role policy before it may reach any DDL.
func DeriveDatabaseName(requested, roleSuffix string) (string, error) {
	if err := ValidateDatabaseName(requested); err != nil {
		return "", err
	}
	name := strings.ToLower(requested) + "_" + roleSuffix
	if err := ValidateRoleName(name); err != nil {
		return "", err
	}
	return name, nil
}

// RoleSet holds the role names derived from a tenant's stable base role.
// PwdRole is a LOGIN role; PrivRole carries the grants that it and the
// rotated certificate roles inherit, and OwnerRole owns tenant databases so
// object ownership stays decoupled from login credentials.
type RoleSet struct {
	PwdRole   string
	PrivRole  string
	OwnerRole string
}

// NewRoleSet derives the privilege and owner role names from pwdRole.
// The derived names are validated too since prefixing can exceed 63 chars.
func NewRoleSet(pwdRole string) (RoleSet, error) {
	if err := ValidateRoleName(pwdRole); err != nil {
		return RoleSet{}, err
	}
	set := RoleSet{
		PwdRole:   pwdRole,
		PrivRole:  "priv_" + pwdRole,
		OwnerRole: "owner_" + pwdRole,
	}
	if err := ValidateRoleName(set.PrivRole); err != nil {
		return RoleSet{}, err
	}
	if err := ValidateRoleName(set.OwnerRole); err != nil {
		return RoleSet{}, err
	}
	return set, nil
}

// ShortID returns the first 8 hexadecimal characters of a UUID (without
// dashes), used as the tenant's role suffix in database names.
func ShortID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if len(hex) < 8 {
		return hex
	}
	return hex[:8]
}
