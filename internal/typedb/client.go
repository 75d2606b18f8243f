// Package typedb looks up aircraft type designators from a sharded type
// database service. Shards are addressed by hex-address prefix and served as
// /db/{prefix}.json documents; once fetched, a shard is cached for the
// process lifetime (shard contents are static).
package typedb

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yegors/ads-bby/pkg/logger"
)

// maxSplit bounds the prefix-widening walk; a 24-bit address is 6 hex digits
const maxSplit = 6

// entry is one aircraft in a shard document
type entry struct {
	Type string `json:"t"`
}

// shard is one decoded shard document. A nil entries map with present=true
// records a 404 ("no data for this shard"), which is a cacheable outcome.
type shard struct {
	entries  map[string]entry
	children map[string]bool
}

// Client is a read-through cached client for the type database service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger

	mu     sync.RWMutex
	shards map[string]*shard
}

// NewClient creates a new type database client
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.Named("typedb"),
		shards:     make(map[string]*shard),
	}
}

// Resolve looks up the type designator for a hex address. It walks shards
// from the coarsest prefix, following the document's children references to
// finer shards. Returns false when the database has no entry, including on
// transient fetch failures (which are not cached).
func (c *Client) Resolve(hex string) (string, bool) {
	hex = strings.ToLower(strings.TrimSpace(hex))
	if len(hex) != maxSplit {
		return "", false
	}

	for splitLen := 1; splitLen <= maxSplit; splitLen++ {
		prefix := hex[:splitLen]
		suffix := hex[splitLen:]

		sh, err := c.shard(prefix)
		if err != nil {
			// Transient failure: treat as no data for this attempt
			c.logger.Warn("Shard fetch failed",
				logger.String("prefix", prefix),
				logger.Error(err))
			return "", false
		}
		if sh.entries == nil {
			return "", false
		}

		if e, ok := sh.entries[suffix]; ok {
			return e.Type, e.Type != ""
		}

		if splitLen < maxSplit && sh.children[hex[:splitLen+1]] {
			continue
		}
		return "", false
	}
	return "", false
}

// shard returns the cached shard for a prefix, fetching it on first use
func (c *Client) shard(prefix string) (*shard, error) {
	c.mu.RLock()
	sh, ok := c.shards[prefix]
	c.mu.RUnlock()
	if ok {
		return sh, nil
	}

	sh, err := c.fetch(prefix)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Another goroutine may have raced us; keep whichever landed first
	if existing, ok := c.shards[prefix]; ok {
		sh = existing
	} else {
		c.shards[prefix] = sh
	}
	c.mu.Unlock()

	return sh, nil
}

// fetch retrieves and decodes one shard document. A 404 is the normal
// "no data" outcome and is returned as an empty shard, which gets cached.
func (c *Client) fetch(prefix string) (*shard, error) {
	url := fmt.Sprintf("%s/db/%s.json", c.baseURL, strings.ToUpper(prefix))

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shard: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("No shard for prefix", logger.String("prefix", prefix))
		return &shard{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard body: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse shard JSON: %w", err)
	}

	sh := &shard{
		entries:  make(map[string]entry, len(raw)),
		children: make(map[string]bool),
	}
	for key, val := range raw {
		if key == "children" {
			var children []string
			if err := json.Unmarshal(val, &children); err != nil {
				return nil, fmt.Errorf("failed to parse shard children: %w", err)
			}
			for _, child := range children {
				sh.children[strings.ToLower(child)] = true
			}
			continue
		}
		var e entry
		if err := json.Unmarshal(val, &e); err != nil {
			// Unexpected value shape for one key; skip it rather than
			// rejecting the whole shard
			continue
		}
		sh.entries[strings.ToLower(key)] = e
	}

	c.logger.Debug("Shard cached",
		logger.String("prefix", prefix),
		logger.Int("entries", len(sh.entries)),
		logger.Int("children", len(sh.children)))

	return sh, nil
}
