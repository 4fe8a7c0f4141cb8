// Command tokenstamp stamps a PDF with the identity read from a PKCS#11
// token.
//
// Usage:
//
//	tokenstamp <command> [options] <args>
//
// Commands:
//
//	stamp    Stamp the token identity next to a phrase
//	locate   List the occurrences of a phrase
//	token    Read the identity from the token without stamping
//	config   Inspect the configuration
//	version  Show version information
//
// Examples:
//
//	# Stamp next to "AUTHORISED SIGNATORY"
//	tokenstamp stamp --module /usr/lib/libeps2003.so contract.pdf contract-signed.pdf
//
//	# Check where the stamp would go
//	tokenstamp locate --phrase "Approved by" contract.pdf
package main

import (
	"os"

	"github.com/georgepadayatti/tokenstamp/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/tokenstamp
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
