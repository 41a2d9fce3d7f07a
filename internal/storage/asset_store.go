// Package storage persists generated visualization assets on the
// local file system.
package storage

// AssetStore saves and retrieves generated assets by name.
type AssetStore interface {
	// Write saves an asset and returns the path it was written to.
	Write(name string, data []byte) (string, error)

	// Exists reports whether an asset is already stored.
	Exists(name string) bool

	// Read retrieves asset contents.
	Read(name string) ([]byte, error)
}
