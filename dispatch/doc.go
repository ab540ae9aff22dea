// Package dispatch wires the runtime together: provider resolution, client
// construction, the response cache and its recorder, retry, circuit breakers
// and rate limits, behind one pipeline per provider.
//
//	rt, err := dispatch.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	resp, _, err := rt.Chat(ctx, "anthropic", llm.Request{
//	    Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "Hello!")},
//	}, pipeline.Options{})
package dispatch
