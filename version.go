package cosimio

import "fmt"

// Version of the exchange protocol. Partners must agree on the major
// version.
const (
	VersionMajor = 4
	VersionMinor = 1
	VersionPatch = 0
)

// Version returns "major.minor.patch".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
