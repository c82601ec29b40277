// Package cdn defines the run-state data model of the publish pipeline.
//
// # Overview
//
// A publish run resolves every configured library into a [Library]: the
// versions discovered at its source, the status of each version, and the
// semantic-version aliases pointing at them. The libraries of one run are
// collected in an immutable [Snapshot].
//
// Nothing in this package mutates a Snapshot. Derived collections are
// produced by free functions:
//
//   - [Listed]: versions that appear in the manifest (everything but ignored)
//   - [PublishableVersions]: versions with a fetched resource declaration
//   - [NeedingUpdate]: publishable versions whose staged content is stale
//
// # Version Status
//
// Every version carries exactly one [Status]:
//
//   - [Ignored]: no valid resource declaration was ever found
//   - [Skipped]: the version is published, but its declaration can no longer
//     be fetched, so its content is kept as-is
//   - [Publishable]: the declaration was fetched and the version may be staged
//
// Consumers switch on the concrete type rather than checking flags:
//
//	switch st := v.Status.(type) {
//	case cdn.Publishable:
//	    stage(st.Declaration)
//	case cdn.Skipped:
//	    keep(st.Prior)
//	case cdn.Ignored:
//	    // not listed
//	}
package cdn
