// Package source defines how libcdn reads library content from the place
// it is developed.
//
// A [Provider] is bound to a single source repository. It lists the
// repository's tags and branches, fetches the per-version resource
// declaration ([cdn.DeclarationFile]) and downloads a full snapshot of a
// ref for staging. Providers are constructed from a locator string such as
// "github:byuweb/web-cdn" or "gitlab:group/project" by [Open].
//
// # Resource Declarations
//
// Every publishable version carries a YAML declaration at its root:
//
//	name: Widgets
//	description: Shared web components
//	docs: https://example.com/widgets
//	resources:
//	  - dist/**
//	  - src: fonts/*.woff2
//	    dest: fonts
//	entrypoints:
//	  widgets.js: Main bundle
//	  widgets.css: ~
//
// [ParseDeclaration] validates the document and returns a [cdn.Declaration].
//
// # Snapshots
//
// Snapshots arrive as gzip-compressed tarballs with a single top-level
// directory. [ExtractTarball] strips that directory and rejects entries that
// would escape the destination.
package source
