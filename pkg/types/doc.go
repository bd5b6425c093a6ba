// Package types contains the core data model shared across buildrules:
// build target configuration, compiled rules and their outcomes, build
// reports, and deployment targets.
//
// Everything here is plain data. Behavior lives in pkg/rules (compilation),
// pkg/executor (execution) and pkg/deploy (deployment).
package types
