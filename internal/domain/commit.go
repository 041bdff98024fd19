package domain

import "strings"

// SchemaVersion is the version of the IndexedCommit document shape.
// An index status recorded with any other version is reindexed from scratch.
const SchemaVersion = 2

// DocumentType is the document type prefix used in index document IDs.
const DocumentType = "commit"

// Commit is a single entry of a repository's history.
type Commit struct {
	// ID is the commit hash, unique within a repository.
	ID string `json:"id"`

	// Author is the author identity, usually "Name <email>".
	Author string `json:"author"`

	// Timestamp is the author date in unix seconds.
	Timestamp int64 `json:"timestamp"`

	// Description is the full commit message.
	Description string `json:"description"`

	// Parents holds the parent commit IDs in git order.
	Parents []string `json:"parents,omitempty"`
}

// CommitDelta describes the commits added and removed by a change to a
// repository. A nil *CommitDelta means no delta is known.
type CommitDelta struct {
	Added   []Commit `json:"added"`
	Removed []Commit `json:"removed"`
}

// IsEmpty reports whether the delta neither adds nor removes commits.
// It is safe to call on a nil delta.
func (d *CommitDelta) IsEmpty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Removed) == 0)
}

// IndexedCommit is the projection of a Commit stored in the search index.
type IndexedCommit struct {
	ID          string `json:"id"`
	Repository  string `json:"repository"`
	Author      string `json:"author"`
	Date        int64  `json:"date"`
	Description string `json:"description"`
	Parents     string `json:"parent"`
	Permission  string `json:"permission"`
}

// NewIndexedCommit projects a commit of the given repository into an index document.
func NewIndexedCommit(repositoryID string, c Commit) IndexedCommit {
	return IndexedCommit{
		ID:          c.ID,
		Repository:  repositoryID,
		Author:      c.Author,
		Date:        c.Timestamp,
		Description: c.Description,
		Parents:     strings.Join(c.Parents, ", "),
	}
}

// Bleve field names of IndexedCommit.
const (
	CommitFieldID          = "id"
	CommitFieldRepository  = "repository"
	CommitFieldAuthor      = "author"
	CommitFieldDate        = "date"
	CommitFieldDescription = "description"
	CommitFieldParents     = "parent"
	CommitFieldPermission  = "permission"
)
