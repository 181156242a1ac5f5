/*
Package secrets resolves the upstream provider key used for a user's
generation requests ("bring your own key").

Providers are tried in order by a Manager, which caches hits for a short TTL:

  - FileProvider: one file per user under a directory, named by user ID,
    permissions 0600 or 0400. The directory can be watched so rotated keys
    apply without restart.
  - EnvProvider: one service-wide key from an environment variable, used as
    the shared fallback when a deployment does not require BYOK.

A user with no key resolves to ErrNoKey, which callers map to an
"API key required" rejection before any upstream work.

	files, _ := secrets.NewFileProvider("/var/conclave/keys", true)
	manager := secrets.NewManager(
		[]secrets.KeyProvider{files, secrets.NewEnvProvider("CONCLAVE_SHARED_API_KEY")},
		secrets.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10000},
	)

	key, err := manager.APIKey(ctx, userID)
	if errors.Is(err, secrets.ErrNoKey) {
		// reject
	}

Key values are never logged; use Redact when a log line must reference one.
*/
package secrets
