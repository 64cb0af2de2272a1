package directory

import (
	"context"
	"fmt"
	"time"

	ldap "github.com/go-ldap/ldap/v3"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/observability"
)

const userFilter = "(objectClass=user)"

// Attributes requested per entry. The account name prefers sAMAccountName
// and falls back to userPrincipalName; the display name falls back to cn.
var userAttributes = []string{"sAMAccountName", "userPrincipalName", "mail", "displayName", "cn"}

// LDAPSearcher queries a directory server over LDAP
type LDAPSearcher struct {
	logger *observability.Logger
}

// NewLDAPSearcher creates an LDAP-backed searcher
func NewLDAPSearcher(logger *observability.Logger) *LDAPSearcher {
	return &LDAPSearcher{logger: logger}
}

// Search binds with the configured admin credentials and lists every user
// entry under the base DN
func (l *LDAPSearcher) Search(ctx context.Context, cfg *catalog.DirectoryConfig) ([]User, error) {
	scheme := "ldap"
	if cfg.UseSSL {
		scheme = "ldaps"
	}

	conn, err := ldap.DialURL(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if err := conn.Bind(cfg.AdminDN, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("directory bind failed: %w", err)
	}

	request := ldap.NewSearchRequest(cfg.BaseDN, ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases, 0, 0, false, userFilter, userAttributes, nil)

	response, err := conn.Search(request)
	if err != nil {
		return nil, fmt.Errorf("directory search failed: %w", err)
	}

	users := make([]User, 0, len(response.Entries))
	for _, entry := range response.Entries {
		userName := entry.GetAttributeValue("sAMAccountName")
		if userName == "" {
			userName = entry.GetAttributeValue("userPrincipalName")
		}
		if userName == "" {
			l.logger.WithField("dn", entry.DN).Debug("skipping entry without account name")
			continue
		}

		fullName := entry.GetAttributeValue("displayName")
		if fullName == "" {
			fullName = entry.GetAttributeValue("cn")
		}

		users = append(users, User{
			UserName: userName,
			Email:    entry.GetAttributeValue("mail"),
			FullName: fullName,
			DN:       entry.DN,
		})
	}

	return users, nil
}
