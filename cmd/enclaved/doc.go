// Command enclaved runs the host-facing HTTP server exposing the
// registration entry points of the trust-bootstrapping core.
package main
