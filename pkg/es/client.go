// Package es 提供了 Elasticsearch 客户端的初始化。
package es

import (
	"crypto/tls"
	"net/http"

	"studymate-go/internal/config"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewClient 按配置创建一个 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}
