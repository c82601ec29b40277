// Package pkg provides the core libraries of libcdn, an incremental publish
// pipeline for a versioned front-end library CDN.
//
// # Overview
//
// libcdn mirrors the tags and tracked branches of configured source
// repositories into one content tree:
//
//	<library>/<version>/...      published files of one version
//	<library>/<alias>            symlink, e.g. 1.x.x -> 1.4.2, latest -> 1.4.2
//	manifest.json                catalogue of every library and version
//
// Only versions whose source commit moved are downloaded and staged; only
// changed files are uploaded in a single commit on the publish branch. The
// tree is then synced to object storage and the affected CDN paths purged.
//
// # Architecture
//
// One publish run flows through these packages:
//
//	[config]   libcdn.toml → library specs
//	    ↓
//	[source]   list refs, fetch declarations ([loader] + [versions])
//	    ↓
//	[staging]  download snapshots, copy mapped files, write aliases
//	    ↓
//	[changes]  hash before/after, classify paths
//	    ↓
//	[manifest] catalogue with sizes and digests
//	    ↓
//	[publish]  one commit of exactly the changed blobs
//	    ↓
//	[storage] + [invalidate]  mirror and purge
//
// [pipeline] runs the stages in order and records each run in [history].
//
// # Main Packages
//
// ## Domain
//
// [cdn] - Shared data model: versions, libraries, snapshots, statuses.
//
// [versions] - Semver classification, ordering and alias computation.
//
// [source] - Source providers (GitHub, GitLab): refs, declarations and
// snapshot tarballs.
//
// [loader], [staging], [changes], [manifest] - The stages that turn source
// repositories into a content tree and a manifest.
//
// ## Publishing
//
// [publish] - Git data API transactions against the publish branch, with a
// GitHub backend and an in-memory backend for tests.
//
// [storage] - Object storage mirror of the content tree.
//
// [invalidate] - CDN path computation and purge clients.
//
// ## Infrastructure
//
// [cache] - Response caches (file, Redis, null).
//
// [integrations] - Shared HTTP client with GitHub and GitLab API clients.
//
// [httputil] - Retry with exponential backoff.
//
// [observability] - Hooks for stage, cache and HTTP events.
//
// [errors] - Coded errors and input validation.
//
// [history] - Run records (JSON lines file or MongoDB).
//
// [config] - Configuration file loading.
//
// [buildinfo] - Version information injected at build time.
//
// # Testing
//
// Run tests:
//
//	go test ./pkg/...                    # All tests
//	go test -tags integration ./pkg/...  # Include integration tests
//
// [cdn]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/cdn
// [versions]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/versions
// [config]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/config
// [source]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/source
// [loader]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/loader
// [staging]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/staging
// [changes]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/changes
// [manifest]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/manifest
// [publish]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/publish
// [storage]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/storage
// [invalidate]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/invalidate
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/pipeline
// [history]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/history
// [cache]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/cache
// [integrations]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/integrations
// [httputil]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/httputil
// [observability]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/observability
// [errors]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/errors
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/libcdn/pkg/buildinfo
package pkg
