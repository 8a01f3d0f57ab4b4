// Package assets carries the downloader and muxer payloads compiled into the
// binary. Release builds drop executables into bin/ (or bin/<goos>/) before
// `go build`; development builds ship an empty tree and fall back to PATH.
package assets

import (
	"embed"
	"io/fs"

	"thirdcoast.systems/zdownload/pkg/provision"
)

//go:embed all:bin
var embedded embed.FS

// Payloads returns the payload tree rooted at bin/.
func Payloads() fs.FS {
	sub, err := fs.Sub(embedded, "bin")
	if err != nil {
		// Only fails on an invalid literal path.
		panic(err)
	}
	return sub
}

// Has reports whether the build carries an embedded payload for kind on goos.
func Has(kind provision.Kind, goos string) bool {
	rc, err := provision.FSSource{FS: Payloads()}.Open(kind, goos)
	if err != nil {
		return false
	}
	_ = rc.Close()
	return true
}
