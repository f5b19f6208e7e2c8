// Package accesscontrol implements the three-tier role model: super admins
// bypass everything, site admins manage resource-admin roles, and each
// header names the resource-admin role allowed to mutate resources using
// it. Memberships are persisted in the role table of the KV backend.
package accesscontrol

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

var ErrPermissionDenied = errors.New("caller lacks the required role")

const (
	prefixMembership = 'g'
	prefixRoleDef    = 'R'
)

type AccessControl struct {
	kv  *keyValStore.KeyValStore
	log *logrus.Logger
}

func New(kv *keyValStore.KeyValStore, logger *logrus.Logger) *AccessControl {
	if logger == nil {
		logger = logrus.New()
	}
	return &AccessControl{kv: kv, log: logger}
}

func membershipKey(role types.Role, id types.Identity) []byte {
	return keyValStore.Key(prefixMembership, role.Bytes(), id.Bytes())
}

func roleDefKey(role types.Role) []byte {
	return keyValStore.Key(prefixRoleDef, role.Bytes())
}

// SeedSuperAdmin grants the super-admin role unconditionally. Called once
// at store bootstrap; idempotent.
func (ac *AccessControl) SeedSuperAdmin(id types.Identity) error {
	if id.IsZero() {
		return nil
	}
	return ac.kv.Update(func(txn *badger.Txn) error {
		return keyValStore.Set(txn, membershipKey(types.SuperAdminRole, id), []byte{1})
	})
}

func member(txn *badger.Txn, role types.Role, id types.Identity) (bool, error) {
	if id.IsZero() {
		return false, nil
	}
	return keyValStore.Exists(txn, membershipKey(role, id))
}

// IsSuperAdmin reports direct super-admin membership.
func (ac *AccessControl) IsSuperAdmin(txn *badger.Txn, id types.Identity) (bool, error) {
	return member(txn, types.SuperAdminRole, id)
}

// IsSiteAdmin reports site-admin membership; super admins are site admins.
func (ac *AccessControl) IsSiteAdmin(txn *badger.Txn, id types.Identity) (bool, error) {
	if isSuper, err := ac.IsSuperAdmin(txn, id); err != nil || isSuper {
		return isSuper, err
	}
	return member(txn, types.SiteAdminRole, id)
}

// HasRole reports membership in role, with super admins implicitly in
// every role.
func (ac *AccessControl) HasRole(txn *badger.Txn, role types.Role, id types.Identity) (bool, error) {
	if isSuper, err := ac.IsSuperAdmin(txn, id); err != nil || isSuper {
		return isSuper, err
	}
	return member(txn, role, id)
}

// IsResourceAdmin decides whether caller may mutate resources governed by
// the given resource-admin role: site admins always may, the public
// sentinel lets anyone, otherwise membership decides.
func (ac *AccessControl) IsResourceAdmin(txn *badger.Txn, role types.Role, caller types.Identity) (bool, error) {
	if role == types.PublicRole {
		return true, nil
	}
	if isSite, err := ac.IsSiteAdmin(txn, caller); err != nil || isSite {
		return isSite, err
	}
	return member(txn, role, caller)
}

// manageable reports whether caller may create/grant/revoke role. Site
// admins manage any role except the two admin tiers; super admins manage
// everything.
func (ac *AccessControl) manageable(txn *badger.Txn, role types.Role, caller types.Identity) (bool, error) {
	if isSuper, err := ac.IsSuperAdmin(txn, caller); err != nil || isSuper {
		return isSuper, err
	}
	if role == types.SuperAdminRole || role == types.SiteAdminRole {
		return false, nil
	}
	return ac.IsSiteAdmin(txn, caller)
}

// CreateRole registers a named resource-admin role. Granting to an unknown
// role still works (roles exist by membership); the definition records who
// created it and keeps listings possible.
func (ac *AccessControl) CreateRole(caller types.Identity, role types.Role) error {
	if role == types.PublicRole {
		return fmt.Errorf("%w: the public sentinel is not a grantable role", ErrPermissionDenied)
	}
	return ac.kv.Update(func(txn *badger.Txn) error {
		ok, err := ac.manageable(txn, role, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s may not create role %s", ErrPermissionDenied, caller, role)
		}
		return keyValStore.Set(txn, roleDefKey(role), caller.Bytes())
	})
}

// Grant adds id to role. Site admins cannot grant the site-admin or
// super-admin roles; only super admins can.
func (ac *AccessControl) Grant(caller types.Identity, role types.Role, id types.Identity) error {
	if role == types.PublicRole {
		return fmt.Errorf("%w: the public sentinel is not a grantable role", ErrPermissionDenied)
	}
	return ac.kv.Update(func(txn *badger.Txn) error {
		ok, err := ac.manageable(txn, role, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s may not grant role %s", ErrPermissionDenied, caller, role)
		}
		ac.log.WithFields(logrus.Fields{
			"role":    role,
			"grantee": id,
			"caller":  caller,
		}).Info("role granted")
		return keyValStore.Set(txn, membershipKey(role, id), []byte{1})
	})
}

// Revoke removes id from role under the same management rules as Grant.
func (ac *AccessControl) Revoke(caller types.Identity, role types.Role, id types.Identity) error {
	return ac.kv.Update(func(txn *badger.Txn) error {
		ok, err := ac.manageable(txn, role, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s may not revoke role %s", ErrPermissionDenied, caller, role)
		}
		return keyValStore.Delete(txn, membershipKey(role, id))
	})
}
