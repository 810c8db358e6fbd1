// Package ghauth implements the GitHub side of the login flow: building
// authorization URLs, exchanging authorization codes for credentials,
// and resolving credentials into canonical account attributes.
//
// Resolver satisfies both collaborator boundaries the rest of the module
// depends on: authflow.Authorizer for starting and finishing the
// authorization-code flow, and identity.Resolver for turning a stored
// credential back into account attributes at startup restoration.
//
// Profile resolution uses the REST /user endpoint and falls back to
// /user/emails when the account's primary email is private, preferring
// the primary verified address. GitHub Enterprise hosts are supported via
// WithAPIBaseURL and WithEndpoint.
package ghauth
