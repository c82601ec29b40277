package github

// Repo represents a GitHub repository.
type Repo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
}

// Tag is one entry of the tag listing.
type Tag struct {
	Name       string    `json:"name"`
	TarballURL string    `json:"tarball_url"`
	Commit     commitRef `json:"commit"`
}

// Branch is one entry of the branch listing.
type Branch struct {
	Name   string    `json:"name"`
	Commit commitRef `json:"commit"`
}

type commitRef struct {
	SHA string `json:"sha"`
}

// CommitSHA returns the commit the tag points at.
func (t Tag) CommitSHA() string { return t.Commit.SHA }

// CommitSHA returns the head commit of the branch.
func (b Branch) CommitSHA() string { return b.Commit.SHA }

// Commit is a git commit object.
type Commit struct {
	SHA     string      `json:"sha"`
	Message string      `json:"message"`
	Tree    commitRef   `json:"tree"`
	Parents []commitRef `json:"parents"`
}

// TreeSHA returns the root tree of the commit.
func (c *Commit) TreeSHA() string { return c.Tree.SHA }

// Tree is a git tree object.
type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// TreeEntry is a file, symlink or directory within a tree.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"` // "blob", "tree" or "commit"
	SHA  string `json:"sha"`
	Size int64  `json:"size,omitempty"`
}

type refResponse struct {
	Ref    string    `json:"ref"`
	Object commitRef `json:"object"`
}

type objectResponse struct {
	SHA string `json:"sha"`
}

// contentResponse is the contents API response for a single file.
type contentResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int    `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}
