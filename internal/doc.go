// Package internal contains the core implementation packages for weft.
//
// # Package Organization
//
// The internal packages are organized by pipeline stage:
//
//   - types: asset identifiers, module nodes and the module graph
//   - resolver: specifier to AssetID resolution with extension inference
//   - matcher: first-match rule selection and emit modes
//   - transform: the transform plugin interface, registry, executor and built-ins
//   - graph: concurrent module graph construction and cycle detection
//   - aggregate: per-channel concatenation in dependency-first order
//   - bundle: the JavaScript module runtime wrapping bundled entries
//   - output: immutable output snapshots and the staging writer
//   - build: the engine tying one generation together, plus the transform cache
//   - server: the dev server, rebuild coordinator and reload websocket hub
//   - watcher: debounced file system monitoring
//   - config, logging, errors, metrics, validation, version: ambient support
//
// # Data Flow
//
// A generation flows one way:
//
//	entries -> resolver -> matcher -> transform chain -> module graph
//	        -> aggregate + bundle -> output.Snapshot -> writer | dev server
//
// The graph is immutable once built; every later stage only reads it. The
// dev server owns the served snapshot and swaps it atomically when a newer
// generation succeeds.
//
// # Concurrency
//
//   - graph: a worker pool shares only the visited set and queue, under one mutex
//   - server: a single coordinator goroutine runs builds; triggers coalesce
//   - output: generations are staged and renamed into place
package internal
