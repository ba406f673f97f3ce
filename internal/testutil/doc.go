// Package testutil provides in-memory fakes for the update engine's
// collaborators, plus helpers that make test output deterministic.
package testutil
