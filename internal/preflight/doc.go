// Package preflight verifies that the host can build a foreign root filesystem
// before anything on disk is touched: root privileges, the bootstrap tool, the
// user-mode emulator and its binfmt_misc registration.
//
// Every check is fatal and none is retried.
package preflight
