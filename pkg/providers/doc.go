// Package providers implements the client for the upstream model provider.
//
// # Overview
//
// The provider speaks the OpenAI-compatible chat-completions protocol
// (OpenRouter and friends). The client offers two call shapes:
//
//   - Call: one blocking completion with a hard per-attempt deadline,
//     bounded retries on transient statuses and capped exponential backoff
//     with jitter
//   - OpenStream: a long-lived SSE response read as a sequence of
//     normalized events (zero or more deltas, then exactly one terminal
//     done or error)
//
// # Errors
//
// Every failure is a *Failure carrying a stable Code. Orchestration code
// branches on the code, the ModelUnavailable flag and the ProviderCaused
// predicate, and never inspects provider message text. The only
// place that reads message text is the classifier in classify.go.
//
// # Basic Usage
//
//	client := providers.NewClient(providers.Config{
//	    Name:    "openrouter",
//	    BaseURL: "https://openrouter.ai/api/v1",
//	})
//
//	res, err := client.Call(ctx, &providers.Request{
//	    APIKey:   key,
//	    Model:    "openai/gpt-4o-mini",
//	    Messages: []providers.Message{{Role: "user", Content: "Hello!"}},
//	})
//	var f *providers.Failure
//	if errors.As(err, &f) && f.ProviderCaused() {
//	    // open the circuit
//	}
//
// # Streaming
//
//	stream, err := client.OpenStream(ctx, req)
//	if err != nil {
//	    return err // nothing was relayed yet
//	}
//	defer stream.Close()
//	for {
//	    ev := stream.Next()
//	    if ev.Kind != providers.EventDelta {
//	        break // EventDone or EventError
//	    }
//	    relay(ev.Text)
//	}
package providers
