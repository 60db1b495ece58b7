package model

import "fmt"

// Environment is the deployment tier a credential is scoped to.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentStaging     Environment = "staging"
	EnvironmentDevelopment Environment = "development"
	EnvironmentTest        Environment = "test"
)

// Valid reports whether e is one of the known environments. Matching is exact.
func (e Environment) Valid() bool {
	switch e {
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment, EnvironmentTest:
		return true
	}
	return false
}

// ParseEnvironment converts s to an Environment, rejecting unknown values.
func ParseEnvironment(s string) (Environment, error) {
	e := Environment(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown environment %q", s)
	}
	return e, nil
}

// Source is the provenance of a resolved secret.
type Source string

const (
	SourceDatabase Source = "database"
	SourceEnv      Source = "env"
	SourceNone     Source = "none"
)

// AuditAction names a credential mutation in the audit trail.
type AuditAction string

const (
	AuditActionCreated     AuditAction = "created"
	AuditActionUpdated     AuditAction = "updated"
	AuditActionRotated     AuditAction = "rotated"
	AuditActionDeactivated AuditAction = "deactivated"
	AuditActionDeleted     AuditAction = "deleted"
)
