package types

// CacheControl carries caching policy for a resource. The store never acts
// on these fields itself; they are policy handed to downstream caches.
// Immutable is the exception: the catalog refuses mutations of resources
// whose current header sets it (see the catalog's immutability guard).
type CacheControl struct {
	MaxAge               uint64 `cbor:"1,keyasint,omitempty"`
	SMaxAge              uint64 `cbor:"2,keyasint,omitempty"`
	NoStore              bool   `cbor:"3,keyasint,omitempty"`
	NoCache              bool   `cbor:"4,keyasint,omitempty"`
	Immutable            bool   `cbor:"5,keyasint,omitempty"`
	Public               bool   `cbor:"6,keyasint,omitempty"`
	MustRevalidate       bool   `cbor:"7,keyasint,omitempty"`
	ProxyRevalidate      bool   `cbor:"8,keyasint,omitempty"`
	StaleWhileRevalidate uint64 `cbor:"9,keyasint,omitempty"`
	StaleIfError         uint64 `cbor:"10,keyasint,omitempty"`
}

// Redirect declares a header-level redirect. Code 0 means no redirect; any
// other value must be in [300,309] and come with a Location.
type Redirect struct {
	Code     StatusCode `cbor:"1,keyasint,omitempty"`
	Location string     `cbor:"2,keyasint,omitempty"`
}

// Header is the shared, content-addressed policy bundle of a resource.
// Headers are immutable and deduplicated by their canonical-encoding hash;
// resources reference them by that hash, never by pointer.
type Header struct {
	AllowedMethods Method       `cbor:"1,keyasint"`
	Cache          CacheControl `cbor:"2,keyasint"`
	Redirect       Redirect     `cbor:"3,keyasint"`
	ResourceAdmin  Role         `cbor:"4,keyasint"`
}

// ResourceMetadata is the per-path descriptive record. Size, Version and
// LastModified are derived: the catalog recomputes them on every mutation
// and callers may not set them directly.
type ResourceMetadata struct {
	MimeType     string `cbor:"1,keyasint,omitempty"`
	Charset      string `cbor:"2,keyasint,omitempty"`
	Encoding     string `cbor:"3,keyasint,omitempty"`
	Language     string `cbor:"4,keyasint,omitempty"`
	Size         uint64 `cbor:"5,keyasint,omitempty"`
	Version      uint64 `cbor:"6,keyasint,omitempty"`
	LastModified int64  `cbor:"7,keyasint,omitempty"`
	HeaderRef    Hash   `cbor:"8,keyasint,omitempty"`
}

// RoyaltyRecord is the cost basis of a stored chunk: what the first write
// cost and who gets credited when someone else registers the same bytes
// again. A zero Publisher waives royalties for the chunk permanently.
type RoyaltyRecord struct {
	Cost      uint64   `cbor:"1,keyasint"`
	Publisher Identity `cbor:"2,keyasint,omitempty"`
}
