// Package hashing provides deterministic content hashing for run artifacts
// and attachment blobs.
//
// All digests are lowercase hex SHA-256. Structured payloads are hashed over
// their canonical JSON form (see MarshalCanonical), so two payloads that are
// structurally equal always produce the same digest regardless of the order
// in which their keys were constructed.
//
// This package imports nothing internal; every other package may depend on
// it.
package hashing
