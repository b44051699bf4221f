// Package vm implements the bytecode engine for selected functions.
//
// This package contains:
//   - Tagged value representation and conversions
//   - Objects with prototype chains and property attributes
//   - Execution contexts forming scope chains
//   - The bytecode format, its builder and disassembler
//   - The interpreter with its handler protocol for exceptions
package vm
