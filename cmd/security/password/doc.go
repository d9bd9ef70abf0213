// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes are PHC strings ($argon2id$v=19$m=..,t=..,p=..$salt$key). A stored hash is
// untrusted input: Verify refuses cost parameters far above the configured ones.
package password
