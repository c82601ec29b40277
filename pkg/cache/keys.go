package cache

import "strings"

// Keyer generates cache keys.
type Keyer interface {
	// HTTPKey generates a key for a cached HTTP response body.
	HTTPKey(namespace, key string) string

	// DeclarationKey generates a key for the resource declaration of a
	// source at an exact commit.
	DeclarationKey(source, commitSHA string) string
}

// DefaultKeyer produces unprefixed keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// HTTPKey returns "http:<namespace>:<key>".
func (DefaultKeyer) HTTPKey(namespace, key string) string {
	return "http:" + namespace + ":" + key
}

// DeclarationKey hashes the source locator so arbitrary locators stay
// filesystem and Redis safe.
func (DefaultKeyer) DeclarationKey(source, commitSHA string) string {
	return hashKey("decl", strings.ToLower(source), commitSHA)
}

// ScopedKeyer wraps a Keyer with a prefix so several deployments can share
// one Redis instance.
//
//	keyer := cache.NewScopedKeyer(cache.NewDefaultKeyer(), "libcdn:prod:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// HTTPKey generates a prefixed key for HTTP response caching.
func (k *ScopedKeyer) HTTPKey(namespace, key string) string {
	return k.prefix + k.inner.HTTPKey(namespace, key)
}

// DeclarationKey generates a prefixed key for declaration caching.
func (k *ScopedKeyer) DeclarationKey(source, commitSHA string) string {
	return k.prefix + k.inner.DeclarationKey(source, commitSHA)
}
