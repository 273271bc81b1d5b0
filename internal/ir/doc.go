// Package ir defines the transaction types shared by every other txq package.
//
// ir imports nothing internal. All other internal packages import ir, which
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Transaction and parent identifiers are opaque strings; ir never parses them
//   - Canonical JSON (RFC 8785 subset) is the only encoding used for hashing
//   - No float64 values in hashed documents; numbers travel as json.Number
//   - All JSON tags use snake_case
package ir
