package openapi

import "strings"

type generatorConfig struct {
	openAPIVersion string
	info           openapiInfo
	basePath       string
	contentType    string
}

type openapiInfo struct {
	Title       string
	Version     string
	Description string
}

func defaultGeneratorConfig() generatorConfig {
	return generatorConfig{
		openAPIVersion: "3.0.3",
		info: openapiInfo{
			Title:   "Store Schema",
			Version: "1.0.0",
		},
		basePath:    "/scopes",
		contentType: "application/json",
	}
}

// GeneratorOption configures the OpenAPI generator behaviour.
type GeneratorOption func(*generatorConfig)

// WithOpenAPIVersion overrides the OpenAPI version string (default: 3.0.3).
func WithOpenAPIVersion(version string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if version == "" {
			return
		}
		cfg.openAPIVersion = version
	}
}

// WithInfo sets the document title and version.
func WithInfo(title, version string, opts ...InfoOption) GeneratorOption {
	return func(cfg *generatorConfig) {
		if title != "" {
			cfg.info.Title = title
		}
		if version != "" {
			cfg.info.Version = version
		}
		for _, opt := range opts {
			if opt != nil {
				opt(&cfg.info)
			}
		}
	}
}

// InfoOption customises the info block.
type InfoOption func(*openapiInfo)

// WithInfoDescription sets info.description.
func WithInfoDescription(description string) InfoOption {
	return func(info *openapiInfo) {
		info.Description = description
	}
}

// WithBasePath sets the prefix used for per-scope paths (default: /scopes).
func WithBasePath(path string) GeneratorOption {
	return func(cfg *generatorConfig) {
		path = strings.TrimRight(strings.TrimSpace(path), "/")
		if path == "" {
			return
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		cfg.basePath = path
	}
}

// WithContentType overrides the response media type (default: application/json).
func WithContentType(contentType string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if contentType = strings.TrimSpace(contentType); contentType != "" {
			cfg.contentType = contentType
		}
	}
}
