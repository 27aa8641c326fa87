package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/arloliu/go-runin/logger"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned when the format of a catalog source cannot be decoded.
var ErrUnsupportedFormat = errors.New("catalog: unsupported format")

// Format is the encoding of a catalog source.
type Format string

const (
	// FormatAuto picks the format from the source extension, defaulting to JSON.
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DefaultFetchTimeout bounds an HTTP fetch when the loader has no client of its own.
const DefaultFetchTimeout = 10 * time.Second

// maxSourceSize bounds the size of a catalog source.
const maxSourceSize = 4 << 20

type loadConfig struct {
	format Format
	client *http.Client
	logger logger.Logger
}

// LoadOption configures Load.
type LoadOption interface {
	apply(*loadConfig)
}

type loadOptFunc func(*loadConfig)

func (f loadOptFunc) apply(c *loadConfig) { f(c) }

// WithFormat forces the decoding format instead of guessing it from the source.
func WithFormat(format Format) LoadOption {
	return loadOptFunc(func(c *loadConfig) { c.format = format })
}

// WithHTTPClient sets the client used for http and https sources.
func WithHTTPClient(client *http.Client) LoadOption {
	return loadOptFunc(func(c *loadConfig) {
		if client != nil {
			c.client = client
		}
	})
}

// WithLogger sets the logger of the loader.
func WithLogger(l logger.Logger) LoadOption {
	return loadOptFunc(func(c *loadConfig) {
		if l != nil {
			c.logger = l
		}
	})
}

// Load reads the catalog from source, an http(s) URL or a file path.
//
// The document is either a list of templates or a mapping with a "commands"
// list, encoded as JSON or YAML.
func Load(ctx context.Context, source string, opts ...LoadOption) (*Catalog, error) {
	cfg := newLoadConfig(opts)

	data, err := fetch(ctx, cfg.client, source)
	if err != nil {
		return nil, err
	}

	format := cfg.format
	if format == FormatAuto {
		format = formatOf(source)
	}

	templates, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", source, err)
	}

	cfg.logger.Debug("catalog: loaded", "source", source, "templates", len(templates))

	return New(templates), nil
}

// LoadOrEmpty is Load that degrades to an empty catalog, logging the failure.
func LoadOrEmpty(ctx context.Context, source string, opts ...LoadOption) *Catalog {
	if source == "" {
		return Empty()
	}

	c, err := Load(ctx, source, opts...)
	if err != nil {
		newLoadConfig(opts).logger.Warn("catalog: load failed, using built-in commands", "source", source, "error", err)

		return Empty()
	}

	return c
}

func newLoadConfig(opts []LoadOption) *loadConfig {
	cfg := &loadConfig{
		client: &http.Client{Timeout: DefaultFetchTimeout},
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	return cfg
}

// Decode parses a catalog document.
func Decode(data []byte, format Format) ([]CommandTemplate, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch format {
	case FormatJSON, FormatAuto:
		if data[0] == '[' {
			var list []CommandTemplate
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, err
			}

			return list, nil
		}

		var doc struct {
			Commands []CommandTemplate `json:"commands"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}

		return doc.Commands, nil

	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}

		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var list []CommandTemplate
			if err := node.Decode(&list); err != nil {
				return nil, err
			}

			return list, nil
		}

		var doc struct {
			Commands []CommandTemplate `yaml:"commands"`
		}
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}

		return doc.Commands, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func fetch(ctx context.Context, client *http.Client, source string) ([]byte, error) {
	if isRemote(source) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("catalog: fetch %s: %w", source, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("catalog: fetch %s: %w", source, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("catalog: fetch %s: unexpected status %s", source, resp.Status)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize))
		if err != nil {
			return nil, fmt.Errorf("catalog: fetch %s: %w", source, err)
		}

		return data, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", source, err)
	}

	return data, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func formatOf(source string) Format {
	p := source
	if isRemote(source) {
		if u, err := url.Parse(source); err == nil {
			p = u.Path
		}
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
