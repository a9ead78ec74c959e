// Package identity adapts the auth collaborator's request headers into the
// caller context used by the visibility resolver.
package identity

import (
	"net/http"
	"strings"
)

// Context describes the caller for the lifetime of one request.
type Context struct {
	ID             string
	Email          string
	Roles          map[string]struct{}
	Assignments    map[string]struct{}
	DelegatedTeams map[string]struct{}
}

// Authenticated reports whether the auth collaborator supplied a user id.
func (c Context) Authenticated() bool {
	return c.ID != ""
}

func (c Context) HasRole(role string) bool {
	_, ok := c.Roles[role]
	return ok
}

func (c Context) AssignedTo(documentID string) bool {
	_, ok := c.Assignments[documentID]
	return ok
}

func (c Context) Delegated(team string) bool {
	_, ok := c.DelegatedTeams[team]
	return ok
}

// EmailDomain returns the lowercased domain part of the caller's email, or ""
// when no usable email was supplied.
func (c Context) EmailDomain() string {
	at := strings.LastIndex(c.Email, "@")
	if at <= 0 || at == len(c.Email)-1 {
		return ""
	}
	return strings.ToLower(c.Email[at+1:])
}

// FromHeaders builds a Context from the headers set by the auth collaborator.
// A missing X-User-Id means the request is unauthenticated.
func FromHeaders(header http.Header) Context {
	return Context{
		ID:             strings.TrimSpace(header.Get("X-User-Id")),
		Email:          strings.TrimSpace(header.Get("X-User-Email")),
		Roles:          splitCSVHeader(header.Get("X-User-Roles")),
		Assignments:    splitCSVHeader(header.Get("X-User-Assignments")),
		DelegatedTeams: splitCSVHeader(header.Get("X-Delegated-Teams")),
	}
}

func splitCSVHeader(raw string) map[string]struct{} {
	values := make(map[string]struct{})
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		values[token] = struct{}{}
	}
	return values
}
