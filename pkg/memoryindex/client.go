// Package memoryindex 提供了长期记忆资源的客户端，实现在 Elasticsearch 之上。
// 对上层暴露的契约只有两条：按名称创建记忆资源（返回资源标识），
// 以及向既有资源追加一条记忆条目。记忆条目只追加，没有更新或删除路径。
package memoryindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"micro-agent-go/internal/config"
	"micro-agent-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// Client 定义了外部记忆资源 API 的接口。
type Client interface {
	// CreateResource 创建一个新的记忆资源并返回其标识。创建是幂等的：
	// 资源已存在时直接返回其标识。
	CreateResource(ctx context.Context, name string) (string, error)
	// AppendEntry 向资源追加一条记忆条目。vector 为空时条目仅做全文索引。
	AppendEntry(ctx context.Context, resourceID string, document []byte, vector []float32, metadata map[string]string) error
}

type esClient struct {
	es   *elasticsearch.Client
	cfg  config.MemoryIndexConfig
	dims int
}

// NewClient 创建一个新的记忆索引客户端。dims 是向量维度，与 Embedding 模型对齐。
func NewClient(cfg config.MemoryIndexConfig, dims int) (Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, err
	}
	return &esClient{es: client, cfg: cfg, dims: dims}, nil
}

// resourceIndexName 将资源名称规整为合法的索引名。
func (c *esClient) resourceIndexName(name string) string {
	sanitized := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	return fmt.Sprintf("%s-%s", c.cfg.IndexPrefix, sanitized)
}

// CreateResource 创建资源对应的索引，已存在时直接返回。
func (c *esClient) CreateResource(ctx context.Context, name string) (string, error) {
	indexName := c.resourceIndexName(name)

	res, err := c.es.Indices.Exists([]string{indexName}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("检查记忆索引是否存在失败: %w", err)
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		return indexName, nil
	}
	if res.StatusCode != http.StatusNotFound {
		return "", fmt.Errorf("检查记忆索引时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"message": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"metadata": { "type": "object", "enabled": true },
				"created_at": { "type": "date" }
			}
		}
	}`, c.dims)

	res, err = c.es.Indices.Create(
		indexName,
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("创建记忆索引 '%s' 失败: %w", indexName, err)
	}
	if res.IsError() {
		log.Errorf("创建记忆索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return "", errors.New("创建记忆索引时 Elasticsearch 返回错误")
	}

	log.Infof("记忆索引 '%s' 创建成功", indexName)
	return indexName, nil
}

// memoryEntry 是写入索引的记忆条目结构。
type memoryEntry struct {
	Message   string            `json:"message"`
	Vector    []float32         `json:"vector,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// AppendEntry 将一条记忆条目索引到资源对应的索引中。
func (c *esClient) AppendEntry(ctx context.Context, resourceID string, document []byte, vector []float32, metadata map[string]string) error {
	entry := memoryEntry{
		Message:   string(document),
		Vector:    vector,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	entryBytes, err := json.Marshal(&entry)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      resourceID,
		DocumentID: fmt.Sprintf("memory-%s", uuid.NewString()),
		Body:       bytes.NewReader(entryBytes),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引记忆条目到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index memory entry")
	}
	return nil
}
