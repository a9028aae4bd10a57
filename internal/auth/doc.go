// Package auth implements session-backed bearer token authentication.
//
// Three pieces compose: the TokenService signs and verifies JWTs carrying
// a {session id, user id} binding, the SessionStore holds revocable
// session records in Redis with TTL, and the Service orchestrates the
// two over the SQLite user directory for register/login/logout/validate
// and password changes.
//
// A token alone is never sufficient: validation requires a live session
// in the store, so revocation (logout, password change, revoke-all) takes
// effect immediately regardless of the token's remaining lifetime.
package auth
