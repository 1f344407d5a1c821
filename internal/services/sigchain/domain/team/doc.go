// Package team decides main-chain operations against the team projection.
//
// Decide is pure given a View: it authorizes the signer, validates the
// operation against current membership and invitations, and returns the
// mutations to apply. State is an in-memory View that folds those mutations,
// used for replay and tests.
package team
