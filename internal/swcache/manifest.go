// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// # Shell Manifest

// Manifest lists the offline-shell assets installed with a cache version.
//
//	version: 7
//	offline_page: /offline.html
//	assets:
//	  - /
//	  - /offline.html
//	  - /assets/app.js?v=7
type Manifest struct {
	Version     int      `yaml:"version"`
	OfflinePage string   `yaml:"offline_page"`
	Assets      []string `yaml:"assets"`
}

// LoadManifest reads and validates a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("swcache: read manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("swcache: decode manifest: %w", err)
	}

	if manifest.Version <= 0 {
		return nil, fmt.Errorf("swcache: manifest version must be positive, got %d", manifest.Version)
	}
	if manifest.OfflinePage != "" && !slices.Contains(manifest.Assets, manifest.OfflinePage) {
		manifest.Assets = append(manifest.Assets, manifest.OfflinePage)
	}
	return &manifest, nil
}

// ShellCache is the name of the versioned shell cache ("yomira-shell-v7").
func (manifest *Manifest) ShellCache() string {
	return CacheName("shell", manifest.Version)
}

// ImageCache is the name of the versioned image cache ("yomira-images-v7").
func (manifest *Manifest) ImageCache() string {
	return CacheName("images", manifest.Version)
}

// CacheName builds a versioned cache name.
func CacheName(kind string, version int) string {
	return cachePrefix + "-" + kind + "-v" + strconv.Itoa(version)
}
