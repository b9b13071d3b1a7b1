package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"policy-core/internal/config"
	"policy-core/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

type ESClient struct {
	Client *elasticsearch.Client
	index  string
	logger *zap.Logger
}

func NewElasticsearchClient(cfg config.ElasticsearchConfig, logger *zap.Logger) (*ESClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	index := cfg.ArchiveIndex
	if index == "" {
		index = "archived-reports"
	}
	esClient := &ESClient{Client: client, index: index, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := esClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	logger.Info("Elasticsearch client initialized",
		zap.String("url", cfg.URL),
		zap.String("archive_index", index),
	)
	return esClient, nil
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.Status())
	}
	return nil
}

// archiveDocument is what gets indexed. Free-text fields stay out of the
// index; only what is needed to find an archived report goes in.
type archiveDocument struct {
	ArchiveID         string    `json:"archiveId"`
	OriginalTable     string    `json:"originalTable"`
	ReportID          string    `json:"reportId"`
	ReferenceID       string    `json:"referenceId"`
	ReporterType      string    `json:"reporterType"`
	Status            string    `json:"status"`
	Severity          string    `json:"severity"`
	Products          []string  `json:"products,omitempty"`
	Symptoms          []string  `json:"symptoms,omitempty"`
	OriginalCreatedAt time.Time `json:"originalCreatedAt"`
	ArchivedAt        time.Time `json:"archivedAt"`
}

func newArchiveDocument(a models.ArchivedReport) archiveDocument {
	doc := archiveDocument{
		ArchiveID:         a.ArchiveID,
		OriginalTable:     a.OriginalTable,
		ReportID:          a.ID,
		ReferenceID:       a.ReferenceID,
		ReporterType:      string(a.ReporterType),
		Status:            string(a.Status),
		Severity:          string(a.Severity),
		OriginalCreatedAt: a.OriginalCreatedAt,
		ArchivedAt:        a.ArchivedAt,
	}
	for _, p := range a.Products {
		doc.Products = append(doc.Products, p.Name)
	}
	for _, s := range a.Symptoms {
		doc.Symptoms = append(doc.Symptoms, s.Name)
	}
	return doc
}

// IndexArchived bulk-indexes the archive projections, keyed by archive id so
// a retried run overwrites instead of duplicating.
func (e *ESClient) IndexArchived(ctx context.Context, reports []models.ArchivedReport) error {
	if len(reports) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range reports {
		meta := map[string]map[string]string{"index": {"_index": e.index, "_id": a.ArchiveID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("error encoding bulk header: %w", err)
		}
		if err := enc.Encode(newArchiveDocument(a)); err != nil {
			return fmt.Errorf("error encoding document: %w", err)
		}
	}

	res, err := e.Client.Bulk(&buf, e.Client.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("error executing bulk index: %w", err)
	}
	defer res.Body.Close()

	var body struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := parseResponse(res, &body); err != nil {
		return err
	}
	if body.Errors {
		failed := 0
		var first string
		for _, item := range body.Items {
			for _, r := range item {
				if r.Status >= 300 {
					failed++
					if first == "" {
						first = r.Error.Reason
					}
				}
			}
		}
		return fmt.Errorf("bulk index rejected %d of %d documents: %s", failed, len(reports), first)
	}

	e.logger.Debug("Indexed archived reports", zap.Int("count", len(reports)), zap.String("index", e.index))
	return nil
}

func parseResponse(res *esapi.Response, target interface{}) error {
	if res.IsError() {
		var e struct {
			Error struct {
				Reason string `json:"reason"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return fmt.Errorf("elasticsearch error: %s", res.Status())
		}
		return fmt.Errorf("elasticsearch error: [%s] %s", res.Status(), e.Error.Reason)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}
