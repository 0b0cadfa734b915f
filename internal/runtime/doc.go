// Package runtime wires storage, config, and the queue engine into a
// single-node Relay instance. It exposes Open/Close, a basic health check,
// and access to the engine for the transport layer.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	id, _ := rt.Queue().Enqueue(context.Background(), "email", []byte(`{}`), 0, 0)
//	_ = id
package runtime
