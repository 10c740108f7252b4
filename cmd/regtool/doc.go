// Command regtool invokes a single registration entry point from the
// command line and exits. Useful for scripted node provisioning where no
// long-running server is wanted.
package main
