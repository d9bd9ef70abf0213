// Package authapi serves the user endpoints: register, login, logout and the user list.
//
// There are no sessions. Login answers with the user's identity and clients keep it locally.
// Failed logins are throttled per client IP and per email with progressive lockout tiers.
package authapi
