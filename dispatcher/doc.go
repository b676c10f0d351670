// Package dispatcher runs user code in warm containers.
//
// Execute resolves the pool for the requested runtime, acquires a container,
// writes the code to the runtime's entry file, runs the entry command under a
// deadline and returns a Result. The container goes back to its pool on every
// path, including panics. Execute never returns an error: every failure is
// reported through Result.Kind.
//
// Usage:
//
//	d := dispatcher.New(logger, registry, runtime,
//	    dispatcher.WithTimeouts(10*time.Second, time.Minute),
//	)
//	res := d.Execute(ctx, dispatcher.Request{
//	    Code:    `print("ok")`,
//	    Runtime: "python",
//	    Timeout: 5 * time.Second,
//	})
//	fmt.Println(res.Status, res.Stdout)
package dispatcher
