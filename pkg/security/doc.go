/*
Package security groups caller authentication and provider key handling.

# Authentication

Requests carry a bearer token. Either a signed JWT or a static API key
resolves to an Identity holding the user ID and entitlement tier:

	authn := auth.Chain{
		auth.NewJWTAuthenticator(auth.JWTConfig{Secret: secret}),
		auth.NewAPIKeyValidator(keys),
	}

	mux.Handle("/generate", auth.NewMiddleware(authn, writeErr).Handle(h))

# Provider Keys

Each user brings their own provider key. The manager asks a chain of
sources in order and caches hits:

	keys := secrets.NewManager([]secrets.KeyProvider{
		fileProvider,
		secrets.NewEnvProvider("CONCLAVE_SHARED_PROVIDER_KEY"),
	}, secrets.CacheConfig{Enabled: true, TTL: time.Minute})

	key, err := keys.APIKey(ctx, userID)

Keys never appear in logs; use secrets.Redact when one must be referenced.
*/
package security
