package authz

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user or
// a wrong token. The two cases are not distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PolicyConfig is the authorization section of the configuration file.
type PolicyConfig struct {
	// Anonymous lists the permissions of sessions with no bound user.
	Anonymous []string `mapstructure:"anonymous" yaml:"anonymous"`

	// Roles maps a role name to its permission names.
	Roles map[string][]string `mapstructure:"roles" yaml:"roles"`

	Users []UserConfig `mapstructure:"users" yaml:"users"`
}

// UserConfig declares a user that can log in.
type UserConfig struct {
	ID   int64  `mapstructure:"id" validate:"required,gt=0" yaml:"id"`
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// TokenDigest is the hex BLAKE3 digest of the login token, as printed
	// by "dittostore hash-token".
	TokenDigest string   `mapstructure:"token_digest" validate:"required,len=64,hexadecimal" yaml:"token_digest"`
	Roles       []string `mapstructure:"roles" yaml:"roles"`
}

// User is a resolved user.
type User struct {
	ID          int64
	Name        string
	Roles       []string
	Permissions Permission
	digest      []byte
}

// Policy answers which permissions a session has.
type Policy interface {
	// Permissions returns the effective permissions of userID, or of an
	// anonymous session when userID is nil.
	Permissions(userID *int64) Permission
}

// StaticPolicy is a Policy built once from configuration.
type StaticPolicy struct {
	anonymous Permission
	roles     map[string]Permission
	users     map[int64]*User
	byName    map[string]*User
}

var _ Policy = (*StaticPolicy)(nil)

// HashToken returns the hex BLAKE3 digest stored in UserConfig.TokenDigest.
func HashToken(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewStaticPolicy resolves role references and permission names. Unknown
// names and duplicate users are errors.
func NewStaticPolicy(cfg PolicyConfig) (*StaticPolicy, error) {
	anonymous, err := ParsePermissions(cfg.Anonymous)
	if err != nil {
		return nil, fmt.Errorf("anonymous: %w", err)
	}

	p := &StaticPolicy{
		anonymous: anonymous,
		roles:     make(map[string]Permission, len(cfg.Roles)),
		users:     make(map[int64]*User, len(cfg.Users)),
		byName:    make(map[string]*User, len(cfg.Users)),
	}

	for name, perms := range cfg.Roles {
		set, err := ParsePermissions(perms)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", name, err)
		}
		p.roles[name] = set
	}

	for _, uc := range cfg.Users {
		if _, dup := p.users[uc.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %d", uc.ID)
		}
		if _, dup := p.byName[uc.Name]; dup {
			return nil, fmt.Errorf("duplicate user name %q", uc.Name)
		}

		digest, err := hex.DecodeString(strings.TrimSpace(uc.TokenDigest))
		if err != nil || len(digest) != 32 {
			return nil, fmt.Errorf("user %q: token digest must be 64 hex characters", uc.Name)
		}

		u := &User{ID: uc.ID, Name: uc.Name, Roles: uc.Roles, digest: digest}
		for _, role := range uc.Roles {
			set, ok := p.roles[role]
			if !ok {
				return nil, fmt.Errorf("user %q: unknown role %q", uc.Name, role)
			}
			u.Permissions |= set
		}

		p.users[u.ID] = u
		p.byName[u.Name] = u
	}

	return p, nil
}

func (p *StaticPolicy) Permissions(userID *int64) Permission {
	if userID == nil {
		return p.anonymous
	}
	if u, ok := p.users[*userID]; ok {
		return u.Permissions
	}
	return p.anonymous
}

// User looks a user up by id.
func (p *StaticPolicy) User(id int64) (*User, bool) {
	u, ok := p.users[id]
	return u, ok
}

// Authenticate checks token against the stored digest of the named user.
func (p *StaticPolicy) Authenticate(name, token string) (*User, error) {
	u, ok := p.byName[name]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	sum := blake3.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(sum[:], u.digest) != 1 {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
