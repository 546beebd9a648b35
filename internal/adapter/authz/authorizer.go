// Package authz maps actor roles to the lifecycle events they may trigger.
// The mapping is a casbin policy loaded once at startup; the embedded
// default grants creation to customers and every transition to operators.
package authz

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"

	"github.com/neomorfeo/orderdesk/internal/domain"
)

//go:embed model.conf
var defaultModel string

//go:embed policy.csv
var defaultPolicy string

// Compile-time check: Authorizer implements domain.Authorizer.
var _ domain.Authorizer = (*Authorizer)(nil)

// Authorizer implements domain.Authorizer with a casbin enforcer.
// The enforcer is never reloaded, so concurrent Authorize calls only read it.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New builds an Authorizer from the policy file at policyPath, or from the
// embedded default policy when policyPath is empty.
func New(policyPath string) (*Authorizer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, fmt.Errorf("authz: parsing model: %w", err)
	}

	var enf *casbin.Enforcer
	if policyPath != "" {
		enf, err = casbin.NewEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enf, err = casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
	}
	if err != nil {
		return nil, fmt.Errorf("authz: initializing enforcer: %w", err)
	}

	return &Authorizer{enforcer: enf}, nil
}

// Authorize returns a *domain.ForbiddenError when the actor's role is not granted event.
func (a *Authorizer) Authorize(_ context.Context, actor domain.Actor, event domain.Event) error {
	ok, err := a.enforcer.Enforce(string(actor.Role), string(event))
	if err != nil {
		return fmt.Errorf("authz: enforce: %w", err)
	}
	if !ok {
		return &domain.ForbiddenError{Actor: actor, Event: event}
	}
	return nil
}
