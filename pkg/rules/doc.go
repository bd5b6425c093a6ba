// Package rules compiles a validated target configuration into an ordered
// sequence of atomic, idempotent rules.
//
// Compilation is deterministic: the same TargetConfig always yields the
// same rule sequence in the same order. Ordering follows the configuration:
// bootstrap rules first, then compilers in declaration order, then packages
// in declaration order, then trailing maintenance. Later entries may depend
// on environment state left by earlier ones, so declaration order is
// preserved even for logically independent entries.
package rules
