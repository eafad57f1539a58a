// Package session stores authenticated ChatNest sessions in Redis. A session
// is an opaque bearer token mapped to the signed-in user's identity, expiring
// after a sliding TTL.
package session
