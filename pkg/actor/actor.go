// Package actor identifies the operator behind a stock operation.
//
// Every ledger movement and every audit entry carries an operator. Handlers
// put the authenticated operator on the context, background jobs use the
// system operator.
package actor

import (
	"context"
	"fmt"
)

// SystemID is the operator ID recorded for scheduled and system-initiated work.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the operator performing an action.
type Actor struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Email       string   `json:"email"`
	TenantID    string   `json:"tenant_id"`
	RoleName    string   `json:"role_name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// FullName returns the actor's full name (first + last)
func (a *Actor) FullName() string {
	if a == nil {
		return ""
	}
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	if a.Email == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.FullName(), a.Email)
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// OperatorID returns the ID to stamp on movements: the actor in ctx, or the system operator.
func OperatorID(ctx context.Context) string {
	if a := FromContext(ctx); a != nil && a.ID != "" {
		return a.ID
	}
	return SystemID
}

// SystemActor returns an Actor representing the system itself.
func SystemActor() *Actor {
	return &Actor{
		ID:        SystemID,
		FirstName: "System",
		Email:     "system@pharmaflow.local",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == SystemID
}

// OperatorCache is the locally cached copy of an operator, synced from user events.
type OperatorCache struct {
	UserID    string `json:"user_id" db:"user_id"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Email     string `json:"email" db:"email"`
	RoleName  string `json:"role_name" db:"role_name"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
}

// ToActor converts a cache entry to an Actor.
func (oc *OperatorCache) ToActor() *Actor {
	if oc == nil {
		return nil
	}
	return &Actor{
		ID:        oc.UserID,
		FirstName: oc.FirstName,
		LastName:  oc.LastName,
		Email:     oc.Email,
		TenantID:  oc.TenantID,
		RoleName:  oc.RoleName,
	}
}
