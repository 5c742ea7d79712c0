// Package cmd implements the arbor command-line interface. It wires the
// DynamoDB store, the lock manager and the hierarchical coordinator to a
// cobra command tree.
//
// The package is organized into several subpackages:
//
//   - table: Provisioning of the lock and resource tables
//   - lock: Lock operations (acquire, release, status, run)
//   - resource: Resource operations against a configured path
//   - util: Shared utilities for flags, configuration and clients (internal use)
//
// Every flag can also be set through an ARBOR_ prefixed environment
// variable (ARBOR_TABLE_PREFIX for --table-prefix) or a .env file. Paths are
// described in the file given by --config:
//
//	paths:
//	  - name: projects
//	    levels:
//	      - collection: orgs
//	        children_field: projects
//	      - collection: projects
//	        backref_field: org_id
//
// See arbor -help for a list of all commands.
package cmd
