// Package natshandler serves function executions over NATS request/reply.
//
// Requests are JSON objects published to the configured subject; the reply is
// the JSON-encoded dispatcher.Result. Subscribers join a queue group so several
// instances can share one subject. Every reply has the Result shape:
// malformed requests come back with kind "transport_failure" and requests
// arriving during shutdown with kind "pool_exhausted", both with exit code -1.
//
// Usage:
//
//	h := natshandler.New(logger, dispatcher, cfg.NATS)
//	if err := h.Start(); err != nil {
//	    return err
//	}
//	defer h.Stop(ctx)
//
// A client calls it with:
//
//	msg, err := nc.Request("functions.execute",
//	    []byte(`{"code": "print(1)", "runtime": "python", "timeout_ms": 5000}`),
//	    10*time.Second)
package natshandler
