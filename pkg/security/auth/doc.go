/*
Package auth resolves the caller's identity for generation requests.

Two authenticators are provided and can be chained:

  - JWTAuthenticator validates HS256 bearer tokens. The subject claim is the
    user ID and an optional "tier" claim feeds entitlement checks.
  - APIKeyValidator maps static API keys to users.

# Basic Usage

	jwtAuth := auth.NewJWTAuthenticator(auth.JWTConfig{
		Secret: os.Getenv("CONCLAVE_AUTH_JWT_SECRET"),
		Issuer: "conclave",
	})
	keys := auth.NewAPIKeyValidator([]*auth.APIKeyInfo{
		{Key: "ck-live-123", UserID: "user-123", Tier: "pro", Enabled: true},
	})

	mw := auth.NewMiddleware(auth.Chain{jwtAuth, keys}, writeUnauthorized)
	handler := mw.Handle(mux)

Handlers read the identity with IdentityFrom.
*/
package auth
