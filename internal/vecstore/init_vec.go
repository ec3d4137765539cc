//go:build sqlite_vec && cgo

package vecstore

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

const vecExtensionAvailable = true

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	vec.Auto()
}
