// Package gitlab provides an HTTP client for the GitLab REST API (v4).
//
// # Overview
//
// The client covers what a source provider needs: project metadata, tag and
// branch listings, raw file contents and repository archives.
//
// # Usage
//
//	client := gitlab.NewClient(gitlab.Options{Token: token})
//	tags, err := client.ListTags(ctx, "group/project", false)
//
// Projects are addressed by their full path, which may include subgroups
// ("group/subgroup/project").
//
// # Authentication
//
// A personal access token is optional and sent as PRIVATE-TOKEN. Without a
// token, only public projects can be accessed.
package gitlab
