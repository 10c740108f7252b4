// Package storage provides name-addressed persistence backends used by the
// sealed store (for hardware-bound records) and by the registration
// orchestrator (as the untrusted sink for exported artifacts).
//
// Backends are created from location URIs via Factory.BackendFor:
//
//   - file:///var/enclave/sealed - local filesystem
//   - s3://bucket/prefix?region=us-east-1 - Amazon S3 or compatible
//   - ipfs://127.0.0.1:5001/prefix - IPFS node (MFS files API)
//   - vault://host:8200/mount/path - HashiCorp Vault KV v2
//   - memory:// - in-process map, for tests and simulation
//
// Every backend treats stored bytes as opaque: sealing and encryption
// happen above this layer, never inside it.
package storage
