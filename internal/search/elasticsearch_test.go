package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AurelienDEMEUSY/SUI-patreon/config"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

func fakeElastic(t *testing.T, status int, response string) (*ElasticClient, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec := recorded{Method: r.Method, Path: r.URL.Path}
		if len(body) > 0 {
			_ = json.Unmarshal(body, &rec.Body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticClient(config.ElasticConfig{URL: srv.URL, Prefix: "test", Enabled: true})
	require.NoError(t, err)
	return client, &reqs
}

func TestIndexCreator(t *testing.T) {
	client, reqs := fakeElastic(t, http.StatusCreated, `{"result":"created"}`)

	err := client.IndexCreator(context.Background(), &models.Creator{
		ServiceObjectID: "0xbb",
		CreatorAddress:  "0xaa",
		Name:            "alice",
	})
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/test-creators/_doc/0xbb", got.Path)
	assert.Equal(t, "alice", got.Body["name"])
}

func TestIndexDeletedPostRemovesDocument(t *testing.T) {
	client, reqs := fakeElastic(t, http.StatusNotFound, `{"result":"not_found"}`)

	deleted := time.Unix(1, 0)
	err := client.IndexPost(context.Background(), &models.Post{ServiceObjectID: "0xbb", PostID: 3, DeletedAt: &deleted})
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	assert.Equal(t, http.MethodDelete, (*reqs)[0].Method)
	assert.Equal(t, "/test-posts/_doc/0xbb:3", (*reqs)[0].Path)
}

func TestSearch(t *testing.T) {
	client, reqs := fakeElastic(t, http.StatusOK, `{
		"hits": {"hits": [
			{"_index": "test-creators", "_id": "0xbb", "_score": 2.5, "_source": {"name": "alice"}},
			{"_index": "test-posts", "_id": "0xbb:1", "_score": 1.0, "_source": {"title": "alice's first"}}
		]}
	}`)

	hits, err := client.Search(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "test-creators", hits[0].Index)
	assert.Equal(t, "0xbb", hits[0].ID)
	assert.Equal(t, 2.5, hits[0].Score)
	assert.Equal(t, "alice", hits[0].Source["name"])

	require.Len(t, *reqs, 1)
	assert.Equal(t, "/test-creators,test-posts/_search", (*reqs)[0].Path)
	assert.EqualValues(t, 5, (*reqs)[0].Body["size"])
}

func TestSearchError(t *testing.T) {
	client, _ := fakeElastic(t, http.StatusInternalServerError, `{"error":"boom"}`)

	_, err := client.Search(context.Background(), "x", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestDisabledClient(t *testing.T) {
	client, err := NewElasticClient(config.ElasticConfig{})
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	require.NoError(t, client.IndexCreator(context.Background(), &models.Creator{}))
	_, err = client.Search(context.Background(), "x", 1)
	assert.ErrorIs(t, err, ErrDisabled)
}
