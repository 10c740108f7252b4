// Package interfaces defines the core types and contracts shared by the
// enclave trust-bootstrapping components. It provides the boundary between
// the key vault, sealed storage, seed exchange and attestation layers
// without implementation details.
package interfaces
