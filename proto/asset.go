package proto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Asset is a binary blob referenced by name from a DataMap. Only the
// digest travels inside the map; the bytes travel beside it in a put
// request and are fetched again on demand.
type Asset struct {
	Digest string
	data   []byte
}

// NewAssetFromBytes wraps data as an asset addressed by its BLAKE3 digest.
func NewAssetFromBytes(data []byte) Asset {
	return Asset{Digest: Digest(data), data: data}
}

// AssetFromDigest references an asset whose bytes live elsewhere.
func AssetFromDigest(digest string) Asset {
	return Asset{Digest: digest}
}

// Data returns the inline bytes, or nil for a digest-only reference.
func (a Asset) Data() []byte {
	return a.data
}

func (a Asset) HasData() bool {
	return a.data != nil
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data hashes to the asset's digest.
func (a Asset) Verify(data []byte) bool {
	return Digest(data) == a.Digest
}
