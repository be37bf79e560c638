package projections

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/config"
)

// NewElasticsearchClient creates a new Elasticsearch client
func NewElasticsearchClient(cfg config.Config) (*elasticsearch.Client, error) {
	elasticCfg := elasticsearch.Config{
		Addresses: []string{cfg.ElasticSearchURL},
		Username:  cfg.ElasticSearchUsername,
		Password:  cfg.ElasticSearchPassword,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(elasticCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	// Check the connection
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("error connecting to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// Indexer mirrors projected aggregate states into per-type indices.
type Indexer struct {
	client *elasticsearch.Client
	prefix string
}

func NewIndexer(client *elasticsearch.Client, prefix string) *Indexer {
	return &Indexer{client: client, prefix: prefix}
}

// FormatIndex returns the index name for an aggregate type.
func (i *Indexer) FormatIndex(aggregateType string) string {
	return i.prefix + "-" + strings.ToLower(aggregateType) + "-states"
}

// IndexState writes the aggregate's state document, keyed by aggregate ID.
func (i *Indexer) IndexState(ctx context.Context, aggregateType, aggregateID string, doc []byte) error {
	req := esapi.IndexRequest{
		Index:      i.FormatIndex(aggregateType),
		DocumentID: aggregateID,
		Body:       bytes.NewReader(doc),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("error indexing aggregate %s: %w", aggregateID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing aggregate %s: %s", aggregateID, res.String())
	}
	return nil
}

// DeleteState removes the aggregate's state document. Missing documents are
// not an error.
func (i *Indexer) DeleteState(ctx context.Context, aggregateType, aggregateID string) error {
	req := esapi.DeleteRequest{
		Index:      i.FormatIndex(aggregateType),
		DocumentID: aggregateID,
	}

	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("error deleting aggregate %s from index: %w", aggregateID, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("error deleting aggregate %s from index: %s", aggregateID, res.String())
	}
	return nil
}
