package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/config"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

// Index names, before the configured prefix
const (
	CreatorsIndex = "creators"
	PostsIndex    = "posts"
)

// ErrDisabled is returned by searches when Elasticsearch is turned off
var ErrDisabled = errors.New("search is disabled")

// Hit is one search result
type Hit struct {
	Index  string                 `json:"index"`
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Source map[string]interface{} `json:"source"`
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client  *elasticsearch.Client
	config  config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return &ElasticClient{config: cfg}, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client:  client,
		config:  cfg,
		enabled: true,
	}, nil
}

// Enabled reports whether documents are indexed
func (c *ElasticClient) Enabled() bool {
	return c.enabled
}

// IndexCreator indexes an active creator or removes a deleted one
func (c *ElasticClient) IndexCreator(ctx context.Context, creator *models.Creator) error {
	if !c.enabled {
		return nil
	}

	index := config.FormatIndex(c.config, CreatorsIndex)
	if creator.DeletedAt != nil {
		return c.delete(ctx, index, creator.ServiceObjectID)
	}

	doc := map[string]interface{}{
		"service_object_id": creator.ServiceObjectID,
		"creator_address":   creator.CreatorAddress,
		"name":              creator.Name,
		"description":       creator.Description,
		"suins_name":        creator.SuinsName,
		"total_subscribers": creator.TotalSubscribers,
		"total_posts":       creator.TotalPosts,
	}
	return c.index(ctx, index, creator.ServiceObjectID, doc)
}

// IndexPost indexes an active post or removes a deleted one
func (c *ElasticClient) IndexPost(ctx context.Context, post *models.Post) error {
	if !c.enabled {
		return nil
	}

	index := config.FormatIndex(c.config, PostsIndex)
	id := PostDocumentID(post.ServiceObjectID, post.PostID)
	if post.DeletedAt != nil {
		return c.delete(ctx, index, id)
	}

	doc := map[string]interface{}{
		"service_object_id": post.ServiceObjectID,
		"post_id":           post.PostID,
		"title":             post.Title,
		"required_tier":     post.RequiredTier,
		"created_at_ms":     post.CreatedAtMs,
	}
	return c.index(ctx, index, id, doc)
}

// PostDocumentID is the document id of a post
func PostDocumentID(serviceObjectID string, postID int64) string {
	return fmt.Sprintf("%s:%d", serviceObjectID, postID)
}

func (c *ElasticClient) index(ctx context.Context, index, id string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index", res)
	}

	log.Debug().Str("index", index).Str("id", id).Msg("Document indexed")
	return nil
}

func (c *ElasticClient) delete(ctx context.Context, index, id string) error {
	req := esapi.DeleteRequest{
		Index:      index,
		DocumentID: id,
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch delete request")
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete", res)
	}
	return nil
}

// Search runs a full text query over creators and posts
func (c *ElasticClient) Search(ctx context.Context, q string, size int) ([]Hit, error) {
	if !c.enabled {
		return nil, ErrDisabled
	}

	query := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"name^3", "suins_name^2", "title^2", "description"},
			},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{
			config.FormatIndex(c.config, CreatorsIndex),
			config.FormatIndex(c.config, PostsIndex),
		},
		Body: bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search", res)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Index  string                 `json:"_index"`
				ID     string                 `json:"_id"`
				Score  float64                `json:"_score"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits := make([]Hit, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		hits = append(hits, Hit{Index: h.Index, ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return hits, nil
}

func responseError(op string, res *esapi.Response) error {
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error (%d): %v", op, res.StatusCode, e)
}
