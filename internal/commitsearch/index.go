package commitsearch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/relic-commits/internal/domain"
)

const (
	// IndexName is the directory name of the commit index below <base_dir>/indexes
	IndexName = "commits.bleve"

	// deletePageSize is the number of documents removed per batch by DeleteByRepository
	deletePageSize = 1000
)

// BleveIndex is a SearchIndex backed by a single Bleve index shared by all repositories.
type BleveIndex struct {
	index bleve.Index
}

var _ SearchIndex = (*BleveIndex)(nil)

// IndexPath returns the location of the commit index below baseDir.
func IndexPath(baseDir string) string {
	return filepath.Join(baseDir, "indexes", IndexName)
}

// CreateIndexMapping creates the Bleve index mapping for commit documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Description - analyzed, default search field, highlighted
	descField := bleve.NewTextFieldMapping()
	descField.Analyzer = standard.Name
	descField.Store = true
	descField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(domain.CommitFieldDescription, descField)

	// Author - analyzed so names and emails match by token
	authorField := bleve.NewTextFieldMapping()
	authorField.Analyzer = standard.Name
	authorField.Store = true
	docMapping.AddFieldMappingsAt(domain.CommitFieldAuthor, authorField)

	// Parents - analyzed, one token per parent id
	parentField := bleve.NewTextFieldMapping()
	parentField.Analyzer = standard.Name
	parentField.Store = true
	docMapping.AddFieldMappingsAt(domain.CommitFieldParents, parentField)

	// Date - numeric, sortable
	dateField := bleve.NewNumericFieldMapping()
	dateField.Store = true
	dateField.DocValues = true
	docMapping.AddFieldMappingsAt(domain.CommitFieldDate, dateField)

	// ID, repository and permission - exact match keywords
	for _, name := range []string{domain.CommitFieldID, domain.CommitFieldRepository, domain.CommitFieldPermission} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	indexMapping.DefaultField = domain.CommitFieldDescription

	return indexMapping
}

// OpenBleveIndex opens the index at path, creating it if it does not exist.
func OpenBleveIndex(path string) (*BleveIndex, error) {
	index, err := bleve.Open(path)
	if err == nil {
		return &BleveIndex{index: index}, nil
	}

	index, err = bleve.New(path, CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryBleveIndex creates an in-memory index, used by tests.
func NewMemoryBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Put indexes doc under id. The permission is stored on the document.
func (b *BleveIndex) Put(_ context.Context, id, permission string, doc domain.IndexedCommit) error {
	doc.Permission = permission
	if err := b.index.Index(id, doc); err != nil {
		return fmt.Errorf("index %s: %w", id, err)
	}
	return nil
}

// DeleteByID removes a single document.
func (b *BleveIndex) DeleteByID(_ context.Context, id string) error {
	if err := b.index.Delete(id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteByRepository removes all documents of a repository in batches.
func (b *BleveIndex) DeleteByRepository(ctx context.Context, repositoryID string) error {
	q := bleve.NewTermQuery(repositoryID)
	q.SetField(domain.CommitFieldRepository)

	lastFirst := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := bleve.NewSearchRequestOptions(q, deletePageSize, 0, false)
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("search documents of %s: %w", repositoryID, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		if res.Hits[0].ID == lastFirst {
			return fmt.Errorf("delete documents of %s: deletions are not visible", repositoryID)
		}
		lastFirst = res.Hits[0].ID

		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("batch delete documents of %s: %w", repositoryID, err)
		}
	}
}

// SearchRequest describes a commit search.
type SearchRequest struct {
	Query      string
	Repository string
	Author     string
	Size       int
}

// SearchHit is a single matching commit.
type SearchHit struct {
	DocumentID  string
	CommitID    string
	Repository  string
	Author      string
	Date        int64
	Description string
	Parents     string
	Score       float64
	Fragments   []string
}

// SearchResult holds the hits of a search and the total number of matches.
type SearchResult struct {
	Total uint64
	Hits  []SearchHit
}

// Search runs a full-text query over commit descriptions, newest first on equal score.
func (b *BleveIndex) Search(ctx context.Context, r SearchRequest) (*SearchResult, error) {
	req := bleve.NewSearchRequest(buildSearchQuery(r))
	if r.Size > 0 {
		req.Size = r.Size
	}
	req.Fields = []string{
		domain.CommitFieldID,
		domain.CommitFieldRepository,
		domain.CommitFieldAuthor,
		domain.CommitFieldDate,
		domain.CommitFieldDescription,
		domain.CommitFieldParents,
	}
	req.SortBy([]string{"-_score", "-" + domain.CommitFieldDate})
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(domain.CommitFieldDescription)

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := &SearchResult{Total: res.Total, Hits: make([]SearchHit, 0, len(res.Hits))}
	for _, hit := range res.Hits {
		h := SearchHit{
			DocumentID:  hit.ID,
			CommitID:    stringField(hit.Fields, domain.CommitFieldID),
			Repository:  stringField(hit.Fields, domain.CommitFieldRepository),
			Author:      stringField(hit.Fields, domain.CommitFieldAuthor),
			Description: stringField(hit.Fields, domain.CommitFieldDescription),
			Parents:     stringField(hit.Fields, domain.CommitFieldParents),
			Score:       hit.Score,
			Fragments:   hit.Fragments[domain.CommitFieldDescription],
		}
		if date, ok := hit.Fields[domain.CommitFieldDate].(float64); ok {
			h.Date = int64(date)
		}
		out.Hits = append(out.Hits, h)
	}
	return out, nil
}

// buildSearchQuery matches the query against the description, or an exact commit id.
func buildSearchQuery(r SearchRequest) query.Query {
	descQuery := bleve.NewMatchQuery(r.Query)
	descQuery.SetField(domain.CommitFieldDescription)

	idQuery := bleve.NewTermQuery(r.Query)
	idQuery.SetField(domain.CommitFieldID)
	idQuery.SetBoost(10.0)

	searchQuery := bleve.NewDisjunctionQuery(descQuery, idQuery)
	if r.Repository == "" && r.Author == "" {
		return searchQuery
	}

	must := []query.Query{searchQuery}
	if r.Repository != "" {
		repoQuery := bleve.NewTermQuery(r.Repository)
		repoQuery.SetField(domain.CommitFieldRepository)
		must = append(must, repoQuery)
	}
	if r.Author != "" {
		authorQuery := bleve.NewMatchQuery(r.Author)
		authorQuery.SetField(domain.CommitFieldAuthor)
		authorQuery.SetOperator(query.MatchQueryOperatorAnd)
		must = append(must, authorQuery)
	}
	return bleve.NewConjunctionQuery(must...)
}

func stringField(fields map[string]any, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// DocCount returns the number of indexed commits across all repositories.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// CountRepository returns the number of indexed commits of one repository.
func (b *BleveIndex) CountRepository(ctx context.Context, repositoryID string) (uint64, error) {
	q := bleve.NewTermQuery(repositoryID)
	q.SetField(domain.CommitFieldRepository)
	res, err := b.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 0, 0, false))
	if err != nil {
		return 0, fmt.Errorf("count documents of %s: %w", repositoryID, err)
	}
	return res.Total, nil
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
