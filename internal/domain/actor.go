package domain

import "context"

const (
	RoleCashier    = "cashier"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Elevated actors may remove lines or clear a cart without a supervisor PIN.
func (a Actor) Elevated() bool {
	return a.Role == RoleAdmin || a.Role == RoleSupervisor
}

type actorContextKey struct{}

type supervisorPINKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

func WithSupervisorPIN(ctx context.Context, pin string) context.Context {
	return context.WithValue(ctx, supervisorPINKey{}, pin)
}

func SupervisorPINFromContext(ctx context.Context) string {
	pin, _ := ctx.Value(supervisorPINKey{}).(string)
	return pin
}
