// Package authz issues operation keys.
//
// A storage-plane request is honoured only if a key for its exact
// (path, session) pair exists. Keys are granted here, after a Policy check,
// and consumed by the storage engine.
package authz

import (
	"fmt"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/fault"
	"github.com/marmos91/dittostore/pkg/metadata"
)

// Grant describes an issued key.
type Grant struct {
	Path      string    `json:"path"`
	Operation Operation `json:"operation"`
	Expires   time.Time `json:"expires"`
}

// Authorizer checks a Policy and grants keys into a Keys table.
type Authorizer struct {
	policy Policy
	keys   *Keys
}

func NewAuthorizer(policy Policy, keys *Keys) *Authorizer {
	return &Authorizer{policy: policy, keys: keys}
}

// Keys returns the table grants are written to.
func (a *Authorizer) Keys() *Keys { return a.keys }

// Policy returns the policy in use.
func (a *Authorizer) Policy() Policy { return a.policy }

// Permissions returns the effective permissions of userID (nil = anonymous).
func (a *Authorizer) Permissions(userID *int64) Permission {
	return a.policy.Permissions(userID)
}

// Authorize grants a key for op on path to session. The path is normalized
// the same way the storage engine normalizes incoming headers.
func (a *Authorizer) Authorize(session string, userID *int64, path string, op Operation) (Grant, error) {
	const opName = "authorize"

	if session == "" {
		return Grant{}, fault.Newf(fault.Authorization, opName, "no session")
	}
	if !op.Valid() {
		return Grant{}, fault.Newf(fault.Serialization, opName, "unknown operation %d", int(op))
	}

	cleaned, err := metadata.CleanPath(path)
	if err != nil {
		return Grant{}, fault.New(fault.Serialization, opName, err)
	}
	if cleaned == "" && op != ReadTree {
		return Grant{}, fault.Newf(fault.Authorization, opName, "%s is not allowed on the root", op).WithPath(cleaned)
	}

	perms := a.policy.Permissions(userID)
	if !perms.Any(Required(op)) {
		return Grant{}, fault.New(fault.Authorization, opName,
			fmt.Errorf("permission denied for %s", op)).WithPath(cleaned)
	}

	expires := a.keys.Grant(cleaned, session, op)
	logger.Debug("Granted %s on %q to session %s", op, cleaned, session)

	return Grant{Path: cleaned, Operation: op, Expires: expires}, nil
}
