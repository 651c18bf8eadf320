// ABOUTME: Package doc for API authentication
// ABOUTME: Optional bearer auth; an empty secret disables it

// Package auth provides optional bearer-token authentication for the agencyd
// HTTP API. Tokens are HS256 JWTs carrying the caller as the subject claim.
// When no jwt_secret is configured the middleware is a no-op and every
// request is anonymous.
package auth
