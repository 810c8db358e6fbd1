// Package provider assembles the identity-session subsystem into a
// single service facade.
//
// A Service owns an identity registry, a login-flow coordinator and a
// credential store. Construction restores previously persisted
// identities before the instance is handed out, so callers always
// observe a fully populated registry:
//
//	store := vault.NewMemoryStore()
//	accounts := ghauth.NewResolver(cfg)
//	svc, err := provider.New(ctx, store, accounts,
//		provider.WithURLOpener(browser.Open),
//	)
//
// Logging in is a blocking round trip through the external
// authorization flow:
//
//	ident, err := svc.Login(ctx)
//
// The host delivers authorization redirects it receives to
// svc.HandleRedirect, which wakes the matching Login call. Identity
// changes are observable through svc.Events().
package provider
