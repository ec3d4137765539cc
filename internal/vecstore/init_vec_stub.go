//go:build !sqlite_vec || !cgo

package vecstore

// Without the sqlite_vec build tag searches use the brute-force scan.
const vecExtensionAvailable = false
