package federation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/idhub/pkg/bus"
	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/clientreg"
	"github.com/platinummonkey/idhub/pkg/observability"
)

// Catalog is the slice of the catalog store the consumer needs
type Catalog interface {
	EnsureModule(ctx context.Context, name, description string) (*catalog.Module, bool, error)
	EnsurePermission(ctx context.Context, name, description string, moduleID uuid.UUID) (*catalog.Permission, bool, error)
	EnsureRole(ctx context.Context, name, description string, moduleID *uuid.UUID) (*catalog.Role, bool, error)
	EnsureUser(ctx context.Context, user *catalog.User) (*catalog.User, bool, error)
	GetPermissionByName(ctx context.Context, name string) (*catalog.Permission, error)
	GetRoleByName(ctx context.Context, name string) (*catalog.Role, error)
	GrantRolePermission(ctx context.Context, roleID string, permissionID uuid.UUID) error
	AddUserRole(ctx context.Context, userID, roleID string) error
}

// ClientRegistry upserts OAuth clients declared by modules
type ClientRegistry interface {
	Upsert(ctx context.Context, d clientreg.Descriptor) (*clientreg.Client, error)
}

// Notifier announces catalog changes to downstream modules. A nil Notifier
// disables notifications.
type Notifier interface {
	RoleUpdated(ctx context.Context, roleID string) error
	UserCreated(ctx context.Context, userID, userName string) error
}

// Consumer applies registration messages to the catalog
type Consumer struct {
	store   Catalog
	clients ClientRegistry
	events  Notifier
	logger  *observability.Logger
	metrics *observability.Metrics

	// defaultPassword is assigned to users created through registration
	defaultPassword string
}

// NewConsumer creates a registration consumer
func NewConsumer(store Catalog, clients ClientRegistry, events Notifier, defaultPassword string, logger *observability.Logger, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		store:           store,
		clients:         clients,
		events:          events,
		logger:          logger,
		metrics:         metrics,
		defaultPassword: defaultPassword,
	}
}

// Handle processes one registration envelope. Every phase is create-if-absent
// except client registration, which upserts. Re-delivery of the same message
// is a no-op, so the handler is safe under at-least-once delivery.
func (c *Consumer) Handle(ctx context.Context, env bus.Envelope) error {
	var msg RegisterModule
	if err := env.Decode(&msg); err != nil {
		c.metrics.RegistrationMessagesTotal.WithLabelValues("malformed").Inc()
		return err
	}

	if err := c.Register(ctx, msg); err != nil {
		c.metrics.RegistrationMessagesTotal.WithLabelValues("error").Inc()
		return err
	}

	c.metrics.RegistrationMessagesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Register folds a registration into the catalog
func (c *Consumer) Register(ctx context.Context, msg RegisterModule) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}

	logger := c.logger.WithModule(msg.ModuleName)

	module, created, err := c.store.EnsureModule(ctx, msg.ModuleName, msg.Description)
	if err != nil {
		return fmt.Errorf("failed to ensure module %s: %w", msg.ModuleName, err)
	}
	if created {
		logger.Info("registered new module")
	}

	if err := c.registerPermissions(ctx, logger, module, msg.Permissions); err != nil {
		return err
	}
	if err := c.registerRoles(ctx, logger, module, msg.Roles); err != nil {
		return err
	}

	// User failures are logged and skipped so one bad declaration cannot
	// poison the rest of the registration.
	c.registerUsers(ctx, logger, msg.Users)

	if err := c.registerClients(ctx, logger, msg.ModuleName, msg.Clients); err != nil {
		return err
	}

	return nil
}

func (c *Consumer) registerPermissions(ctx context.Context, logger *observability.Logger, module *catalog.Module, specs []PermissionSpec) error {
	for _, spec := range specs {
		owner := module
		if spec.Module != "" && !strings.EqualFold(spec.Module, module.Name) {
			// A declaration may tag a permission for another module.
			other, _, err := c.store.EnsureModule(ctx, spec.Module, "")
			if err != nil {
				return fmt.Errorf("failed to ensure module %s: %w", spec.Module, err)
			}
			owner = other
		}

		_, created, err := c.store.EnsurePermission(ctx, spec.Name, spec.Description, owner.ID)
		if err != nil {
			return fmt.Errorf("failed to ensure permission %s: %w", spec.Name, err)
		}
		c.countItem("permission", created)
		if created {
			logger.WithField("permission", spec.Name).Debug("created permission")
		}
	}
	return nil
}

func (c *Consumer) registerRoles(ctx context.Context, logger *observability.Logger, module *catalog.Module, specs []RoleSpec) error {
	for _, spec := range specs {
		role, created, err := c.store.EnsureRole(ctx, spec.Name, spec.Description, &module.ID)
		if err != nil {
			return fmt.Errorf("failed to ensure role %s: %w", spec.Name, err)
		}
		c.countItem("role", created)
		if !created {
			// First writer wins; an existing role keeps its grants.
			continue
		}

		for _, permName := range spec.Permissions {
			perm, err := c.store.GetPermissionByName(ctx, permName)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"role":       spec.Name,
					"permission": permName,
				}).Warn("skipping grant of unknown permission")
				continue
			}
			if err := c.store.GrantRolePermission(ctx, role.ID, perm.ID); err != nil {
				return fmt.Errorf("failed to grant %s to role %s: %w", permName, spec.Name, err)
			}
		}

		c.notifyRoleUpdated(ctx, logger, role.ID)
	}
	return nil
}

// Notifications are best effort; the registration itself has already been
// committed when they fire.
func (c *Consumer) notifyRoleUpdated(ctx context.Context, logger *observability.Logger, roleID string) {
	if c.events == nil {
		return
	}
	if err := c.events.RoleUpdated(ctx, roleID); err != nil {
		logger.WithError(err).WithField("role_id", roleID).Warn("failed to publish role update")
	}
}

func (c *Consumer) notifyUserCreated(ctx context.Context, userID, userName string) {
	if c.events == nil {
		return
	}
	if err := c.events.UserCreated(ctx, userID, userName); err != nil {
		c.logger.WithError(err).WithField("user_name", userName).Warn("failed to publish user creation")
	}
}

func (c *Consumer) registerUsers(ctx context.Context, logger *observability.Logger, specs []UserSpec) {
	for _, spec := range specs {
		if err := c.registerUser(ctx, spec); err != nil {
			logger.WithError(err).WithField("user_name", spec.UserName).Error("skipping user registration")
			c.metrics.RegistrationItemsTotal.WithLabelValues("user", "skipped").Inc()
			continue
		}
	}
}

func (c *Consumer) registerUser(ctx context.Context, spec UserSpec) error {
	hash, err := catalog.HashPassword(c.defaultPassword)
	if err != nil {
		return err
	}

	user, created, err := c.store.EnsureUser(ctx, &catalog.User{
		UserName:       spec.UserName,
		Email:          spec.Email,
		FullName:       spec.FullName,
		IsActive:       true,
		EmailConfirmed: true,
		PasswordHash:   hash,
	})
	if err != nil {
		return err
	}
	c.countItem("user", created)
	if created {
		c.notifyUserCreated(ctx, user.ID, user.UserName)
	}

	for _, roleName := range spec.Roles {
		role, err := c.store.GetRoleByName(ctx, roleName)
		if err != nil {
			return fmt.Errorf("unknown role %s: %w", roleName, err)
		}
		if err := c.store.AddUserRole(ctx, user.ID, role.ID); err != nil {
			return fmt.Errorf("failed to assign role %s: %w", roleName, err)
		}
	}

	return nil
}

func (c *Consumer) registerClients(ctx context.Context, logger *observability.Logger, moduleName string, descriptors []clientreg.Descriptor) error {
	for _, d := range descriptors {
		if d.OwnerModule == "" {
			d.OwnerModule = moduleName
		}
		if _, err := c.clients.Upsert(ctx, d); err != nil {
			return fmt.Errorf("failed to upsert client %s: %w", d.ClientID, err)
		}
		c.metrics.RegistrationItemsTotal.WithLabelValues("client", "upserted").Inc()
		logger.WithField("client_id", d.ClientID).Debug("upserted client")
	}
	return nil
}

func (c *Consumer) countItem(kind string, created bool) {
	outcome := "existing"
	if created {
		outcome = "created"
	}
	c.metrics.RegistrationItemsTotal.WithLabelValues(kind, outcome).Inc()
}
