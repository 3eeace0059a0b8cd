package helpers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// NewESClient creates an Elasticsearch client with sane defaults and optional basic auth.
func NewESClient(addrs []string, username, password string) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: addrs,
		Username:  username,
		Password:  password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 5 * time.Second,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
	return elasticsearch.NewClient(cfg)
}

// EnsureESIndex creates the index with the given mapping unless it already
// exists. Callers without Elasticsearch pass a nil client and get a no-op.
func EnsureESIndex(ctx context.Context, es *elasticsearch.Client, index, mapping string) error {
	if es == nil || index == "" {
		return nil
	}
	exists := esapi.IndicesExistsRequest{Index: []string{index}}
	res, err := exists.Do(ctx, es)
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	create := esapi.IndicesCreateRequest{Index: index}
	if strings.TrimSpace(mapping) != "" {
		create.Body = strings.NewReader(mapping)
	}
	cres, err := create.Do(ctx, es)
	if err != nil {
		return err
	}
	defer func() { _ = cres.Body.Close() }()
	if cres.IsError() {
		return fmt.Errorf("create index %s: %s", index, cres.Status())
	}
	return nil
}
