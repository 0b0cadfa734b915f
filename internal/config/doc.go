// Package config provides loading and environment overlay for Relay runtime
// configuration. It exposes a Default() baseline, JSON file loading, and
// RELAY_* environment overrides.
//
// Example:
//
//	cfg, err := config.Load("/etc/relay.json")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{DataDir: cfg.DataDir, Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
package config
