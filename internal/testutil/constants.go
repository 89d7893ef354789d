// Package testutil provides shared constants and a scripted fake backend for relay tests.
package testutil

// Paths the fake backend commonly serves.
const (
	// ResourcePath is a generic authenticated resource.
	ResourcePath = "/resource"

	// ProbePath matches the default session probe.
	ProbePath = "/me"

	// LoginPath matches the default login endpoint, which is exempt from session recovery.
	LoginPath = "/login"
)

const (
	// PrimaryProfile is the name of the first default transport profile.
	PrimaryProfile = "primary"

	// BadCredentials is the literal message the fake backend returns for a rejected login.
	BadCredentials = "invalid credentials"
)
