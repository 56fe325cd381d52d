// Package internal holds the larrix implementation packages.
//
//   - archive: deterministic stored zip writer for the dist tree
//   - build: the staging, manifest and archive pipeline
//   - config: larrix.yml loading and validation
//   - dev: the reconcile loop behind larrix dev
//   - livereload: client hub, SSE and WebSocket transports, bootstrap injection
//   - manifest: manifest.json synthesis
//   - server: the development HTTP server
//   - staging: source to output mirroring
//   - watcher: recursive filesystem notifications
//   - scaffold: larrix init project generation
package internal
