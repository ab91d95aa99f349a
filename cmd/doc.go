// Package cmd implements the command-line interface for working with
// tracevault containers. It provides a hierarchical command structure
// for inspecting container files and merging them offline; all commands
// go through the public library API.
//
// The package is organized into several subpackages:
//
//   - db: Commands for container operations (info, ls, merge)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See tracevault -help for a list of all commands.
package cmd
