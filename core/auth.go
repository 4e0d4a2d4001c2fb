package core

import (
	"context"
	"fmt"
)

// Authorizer computes the Authorization header value for a request.
// An empty value means no header is sent.
type Authorizer interface {
	Authorization(ctx context.Context) (string, error)
	Type() string
}

const (
	AuthorizationNone   = "none"
	AuthorizationStatic = "static"
	AuthorizationOAuth2 = "oauth2"
)

// NoAuthorization never adds a header
type NoAuthorization struct{}

func (NoAuthorization) Authorization(context.Context) (string, error) { return "", nil }

func (NoAuthorization) Type() string { return AuthorizationNone }

// StaticAuthorization sends the same pre-configured value with every request
type StaticAuthorization struct {
	Value string
}

func (a StaticAuthorization) Authorization(context.Context) (string, error) {
	if a.Value == "" {
		return "", &AuthError{Cause: fmt.Errorf("static authorization value is empty")}
	}
	return a.Value, nil
}

func (StaticAuthorization) Type() string { return AuthorizationStatic }

// invalidator is implemented by authorizers holding a credential that the destination may reject
type invalidator interface {
	Invalidate()
}
