/*
Package policy serves per-key model allowlists.

The allowlist file is YAML. Keys are identified by the SHA-256 fingerprint of
the provider key so raw keys never sit in the file:

	default:
	  - openai/gpt-4o-mini
	keys:
	  - fingerprint: 3f8a...c1
	    models:
	      - anthropic/claude-3.5-haiku
	      - openai/gpt-4o-mini

A key with no entry gets the default list; an empty default means no
filtering. The file is reloaded on change when watched:

	src, err := policy.NewFileSource("config/models.yaml")
	if err != nil {
		return err
	}
	go src.Watch(ctx)

	allow, _ := src.Allowlist(ctx, apiKey)
*/
package policy
