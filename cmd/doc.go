// Package cmd implements the command-line interface of oKV. It provides commands for
// running the remote service and for using the offline-first data layer as a client.
//
// The package is organized into several subpackages:
//
//   - serve: starts the remote service
//   - data: record and file operations routed through the data router
//   - queue: inspection and delivery of queued writes
//   - util: shared flag handling, configuration and wiring of the data layer (internal use)
//
// See okv --help for a list of all commands.
package cmd
