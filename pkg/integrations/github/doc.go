// Package github provides an HTTP client for the GitHub REST API.
//
// # Overview
//
// The client covers the two roles GitHub plays in a publish run:
//
//   - Source host: tag and branch listings, file contents at a ref, and
//     repository tarballs ([Client.ListTags], [Client.ListBranches],
//     [Client.FetchFile], [Client.DownloadTarball]).
//   - Publish target: the git data API used to build a commit without a
//     local clone ([Client.GetRef], [Client.GetTree], [Client.CreateBlob],
//     [Client.CreateTree], [Client.CreateCommit], [Client.UpdateRef]).
//
// # Usage
//
//	client := github.NewClient(github.Options{
//	    Token:    os.Getenv("GITHUB_TOKEN"),
//	    Cache:    c,
//	    CacheTTL: 5 * time.Minute,
//	})
//
//	tags, err := client.ListTags(ctx, "byuweb", "byu-theme-components", false)
//
// # Authentication
//
// A token is optional for public sources but required for publishing.
// Without a token, the client is limited to 60 requests/hour.
//
// # Caching
//
// Only ref listings and repository metadata are cached, with the TTL given
// in [Options]. Pass refresh=true to bypass the cache, as webhook-triggered
// runs do. Git data reads and writes are never cached.
//
// # Webhooks
//
// [ValidateSignature] verifies the X-Hub-Signature-256 header of webhook
// deliveries and [PushEvent] decodes push payloads.
package github
