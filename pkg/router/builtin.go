package router

import (
	"context"
	"errors"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/authz"
	"github.com/marmos91/dittostore/pkg/fault"
	"github.com/marmos91/dittostore/pkg/session"
)

// Built-in view names.
const (
	ViewLogin       = "auth.login"
	ViewLogout      = "auth.logout"
	ViewSessionInfo = "session.info"
	ViewAuthorize   = "cloud.authorize"
	ViewPermissions = "cloud.permissions"
)

// Authenticator checks login credentials.
type Authenticator interface {
	Authenticate(name, token string) (*authz.User, error)
}

// Builtins are the dependencies of the built-in views.
type Builtins struct {
	Registry      *session.Registry
	Authorizer    *authz.Authorizer
	Authenticator Authenticator
}

// RegisterBuiltins binds the built-in views on r.
func RegisterBuiltins(r *Router, b Builtins) {
	r.Handle(ViewLogin, b.login)
	r.Handle(ViewLogout, b.logout)
	r.Handle(ViewSessionInfo, b.sessionInfo)
	r.Handle(ViewAuthorize, b.authorize)
	r.Handle(ViewPermissions, b.permissions)
}

type loginRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type loginResponse struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func (b Builtins) login(_ context.Context, req *Request) (any, error) {
	var in loginRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if b.Authenticator == nil {
		return nil, fault.Newf(fault.Authorization, ViewLogin, "login is disabled")
	}

	user, err := b.Authenticator.Authenticate(in.Name, in.Token)
	if err != nil {
		logger.Debug("Login failed for %q from %s", in.Name, req.Conn.Peer())
		return nil, fault.New(fault.Authorization, ViewLogin, err)
	}

	if err := b.Registry.Login(req.Conn, user.ID); err != nil {
		return nil, fault.New(fault.NotFound, ViewLogin, err)
	}

	logger.Info("User %s (%d) logged in on session %s", user.Name, user.ID, req.SessionID)
	return loginResponse{ID: user.ID, Name: user.Name, Roles: user.Roles}, nil
}

func (b Builtins) logout(_ context.Context, req *Request) (any, error) {
	if err := b.Registry.Logout(req.Conn); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, fault.New(fault.NotFound, ViewLogout, err)
		}
		return nil, err
	}
	return "success", nil
}

type sessionInfo struct {
	Session  string `json:"session"`
	User     *int64 `json:"user"`
	Receiver bool   `json:"receiver"`
	Members  int    `json:"members"`
}

func (b Builtins) sessionInfo(_ context.Context, req *Request) (any, error) {
	return sessionInfo{
		Session:  req.SessionID,
		User:     req.UserID,
		Receiver: b.Registry.IsReceiver(req.Conn),
		Members:  len(b.Registry.Members(req.SessionID)),
	}, nil
}

type authorizeRequest struct {
	Path      string          `json:"path"`
	Operation authz.Operation `json:"operation"`
}

func (b Builtins) authorize(_ context.Context, req *Request) (any, error) {
	var in authorizeRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	return b.Authorizer.Authorize(req.SessionID, req.UserID, in.Path, in.Operation)
}

func (b Builtins) permissions(_ context.Context, req *Request) (any, error) {
	return b.Authorizer.Permissions(req.UserID).Names(), nil
}
