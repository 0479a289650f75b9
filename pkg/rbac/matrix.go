// Package rbac gates every mutating core operation. A role/permission
// matrix covers the coarse grants; patient self-scope is a compiled
// constraint evaluated per request.
package rbac

import (
	"context"

	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// Resource names a guarded resource class.
type Resource string

const (
	ResPatient     Resource = "patient"
	ResEncounter   Resource = "encounter"
	ResObservation Resource = "observation"
	ResMedication  Resource = "medication"
	ResFHIR        Resource = "fhir"
	ResAuditLog    Resource = "audit_log"
	ResUser        Resource = "user"
	ResSettings    Resource = "settings"
	ResReport      Resource = "report"
	ResBilling     Resource = "billing"
)

// Action is a CRUD verb.
type Action string

const (
	ActCreate Action = "create"
	ActRead   Action = "read"
	ActUpdate Action = "update"
	ActDelete Action = "delete"
)

type permKey struct {
	role     auth.Role
	resource Resource
	action   Action
}

// matrix is the static grant table. ADMIN is handled as a wildcard.
var matrix = buildMatrix()

func buildMatrix() map[permKey]struct{} {
	m := make(map[permKey]struct{})
	grant := func(role auth.Role, res Resource, actions ...Action) {
		for _, a := range actions {
			m[permKey{role, res, a}] = struct{}{}
		}
	}

	// DOCTOR: full clinical read/write, no admin surfaces.
	for _, res := range []Resource{ResPatient, ResEncounter, ResObservation, ResMedication, ResFHIR} {
		grant(auth.RoleDoctor, res, ActCreate, ActRead, ActUpdate)
	}
	grant(auth.RoleDoctor, ResReport, ActRead)

	// NURSE: clinical read, observation write.
	for _, res := range []Resource{ResPatient, ResEncounter, ResMedication, ResFHIR} {
		grant(auth.RoleNurse, res, ActRead)
	}
	grant(auth.RoleNurse, ResObservation, ActCreate, ActRead, ActUpdate)

	// PHARMACIST: medication lifecycle plus clinical read.
	for _, res := range []Resource{ResPatient, ResEncounter, ResObservation, ResFHIR} {
		grant(auth.RolePharmacist, res, ActRead)
	}
	grant(auth.RolePharmacist, ResMedication, ActCreate, ActRead, ActUpdate)
	grant(auth.RolePharmacist, ResBilling, ActCreate, ActRead, ActUpdate)
	grant(auth.RolePharmacist, ResReport, ActRead)

	// PATIENT: read own records only; scope is enforced separately.
	for _, res := range []Resource{ResPatient, ResEncounter, ResObservation, ResMedication, ResBilling} {
		grant(auth.RolePatient, res, ActRead)
	}

	// USER: default low privilege.
	grant(auth.RoleUser, ResPatient, ActRead)
	grant(auth.RoleUser, ResMedication, ActRead)

	return m
}

// Request describes one access check.
type Request struct {
	Resource Resource
	Action   Action
	// ResourcePatientID is the owning patient of the record, when the
	// resource class is patient-scoped. Required for PATIENT callers.
	ResourcePatientID string
}

// Authorizer is the check surface mutating services depend on.
type Authorizer interface {
	Check(ctx context.Context, req Request) error
}

// Allow runs the check when an authorizer is wired. Services built
// standalone (package tests, offline tooling) carry a nil authorizer
// and skip gating; the engine facade always wires one.
func Allow(ctx context.Context, a Authorizer, req Request) error {
	if a == nil {
		return nil
	}
	return a.Check(ctx, req)
}

// Engine evaluates requests against the matrix and the scope constraint.
type Engine struct {
	scope *ScopeConstraint
}

// NewEngine builds an Engine with the default patient self-scope rule.
func NewEngine() (*Engine, error) {
	scope, err := NewScopeConstraint(DefaultPatientScopeExpr)
	if err != nil {
		return nil, err
	}
	return &Engine{scope: scope}, nil
}

// NewEngineWithScope injects a custom scope expression.
func NewEngineWithScope(expr string) (*Engine, error) {
	scope, err := NewScopeConstraint(expr)
	if err != nil {
		return nil, err
	}
	return &Engine{scope: scope}, nil
}

// Check returns nil when the context principal may perform the request,
// rxerr.ErrNotAuthorized otherwise.
func (e *Engine) Check(ctx context.Context, req Request) error {
	p, err := auth.GetPrincipal(ctx)
	if err != nil {
		return err
	}

	for _, role := range p.GetRoles() {
		if role == auth.RoleAdmin {
			return nil
		}
		if _, ok := matrix[permKey{role, req.Resource, req.Action}]; !ok {
			continue
		}
		if role == auth.RolePatient {
			ok, err := e.scope.Allow(p.GetID(), req.ResourcePatientID)
			if err != nil {
				return rxerr.ErrSystemFailure.Wrap(err)
			}
			if !ok {
				continue
			}
		}
		return nil
	}
	return rxerr.ErrNotAuthorized.WithDetail("role lacks %s on %s", req.Action, req.Resource)
}
