package bus

import "context"

// PermissionCreatedEvent is published when a permission is created through
// the admin surface
type PermissionCreatedEvent struct {
	PermissionID string `json:"permission_id"`
	Name         string `json:"name"`
}

// PermissionUpdatedEvent is published when a permission changes
type PermissionUpdatedEvent struct {
	PermissionID string `json:"permission_id"`
}

// RoleCreatedEvent is published when a new role appears
type RoleCreatedEvent struct {
	RoleID string `json:"role_id"`
	Name   string `json:"name"`
}

// RoleUpdatedEvent is published when a role's permission set changes
type RoleUpdatedEvent struct {
	RoleID string `json:"role_id"`
}

// UserCreatedEvent is published when a user is created through registration
// or directory sync
type UserCreatedEvent struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// UserUpdatedEvent is published when a user's account state changes
type UserUpdatedEvent struct {
	UserID string `json:"user_id"`
}

// Events publishes catalog change notifications for downstream modules.
// Modules that cache role or user state subscribe to the events stream and
// refresh on these messages.
type Events struct {
	publisher *Publisher
	stream    string
	source    string
}

// NewEvents creates an event publisher on the given stream
func NewEvents(publisher *Publisher, stream, source string) *Events {
	return &Events{
		publisher: publisher,
		stream:    stream,
		source:    source,
	}
}

// PermissionCreated announces a newly created permission
func (e *Events) PermissionCreated(ctx context.Context, permissionID, name string) error {
	return e.publish(ctx, TypePermissionCreated, PermissionCreatedEvent{
		PermissionID: permissionID,
		Name:         name,
	})
}

// PermissionUpdated announces a change to a permission
func (e *Events) PermissionUpdated(ctx context.Context, permissionID string) error {
	return e.publish(ctx, TypePermissionUpdated, PermissionUpdatedEvent{PermissionID: permissionID})
}

// RoleCreated announces a newly created role
func (e *Events) RoleCreated(ctx context.Context, roleID, name string) error {
	return e.publish(ctx, TypeRoleCreated, RoleCreatedEvent{
		RoleID: roleID,
		Name:   name,
	})
}

// RoleUpdated announces a change to a role's grants
func (e *Events) RoleUpdated(ctx context.Context, roleID string) error {
	return e.publish(ctx, TypeRoleUpdated, RoleUpdatedEvent{RoleID: roleID})
}

// UserCreated announces a newly created user
func (e *Events) UserCreated(ctx context.Context, userID, userName string) error {
	return e.publish(ctx, TypeUserCreated, UserCreatedEvent{
		UserID:   userID,
		UserName: userName,
	})
}

// UserUpdated announces a change to a user's account state
func (e *Events) UserUpdated(ctx context.Context, userID string) error {
	return e.publish(ctx, TypeUserUpdated, UserUpdatedEvent{UserID: userID})
}

func (e *Events) publish(ctx context.Context, msgType string, payload interface{}) error {
	env, err := NewEnvelope(msgType, e.source, payload)
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, e.stream, env)
}
