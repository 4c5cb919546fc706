// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package swcache

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/taibuivan/yomira-reader/internal/platform/constants"
)

// # Request Classification

// Class is the routing class of a request. Classification is purely URL and
// header based; the library must keep these patterns stable.
type Class int

const (
	// ClassOther is passed through untouched.
	ClassOther Class = iota
	// ClassBuildTool covers dev-server and hot-reload artifacts; never cached.
	ClassBuildTool
	// ClassImage covers page, thumbnail and cover images; served cache-first.
	ClassImage
	// ClassVersioned covers static assets carrying a numeric "v" query parameter.
	ClassVersioned
	// ClassNavigation covers document navigations.
	ClassNavigation
	// ClassAPI covers JSON API calls.
	ClassAPI
)

var classNames = map[Class]string{
	ClassOther:      "other",
	ClassBuildTool:  "build_tool",
	ClassImage:      "image",
	ClassVersioned:  "versioned",
	ClassNavigation: "navigation",
	ClassAPI:        "api",
}

func (class Class) String() string {
	if name, ok := classNames[class]; ok {
		return name
	}
	return "unknown"
}

// buildToolMarkers identify dev-server resources by URL fragment.
var buildToolMarkers = []string{
	"/@vite/",
	"/@react-refresh",
	"/@fs/",
	"/node_modules/",
	"__vite_ping",
	".hot-update.",
}

// imageSegments mark image paths when found inside any path segment.
var imageSegments = []string{"pages", "thumbnail", "cover"}

/*
Classify routes a request to a caching strategy.

Description: The first matching rule wins, in this order: build tool, image,
versioned asset, navigation, API, other.
*/
func Classify(request *http.Request) Class {
	target := request.URL

	raw := target.String()
	for _, marker := range buildToolMarkers {
		if strings.Contains(raw, marker) {
			return ClassBuildTool
		}
	}

	for _, segment := range strings.Split(target.Path, "/") {
		for _, marker := range imageSegments {
			if segment != "" && strings.Contains(segment, marker) {
				return ClassImage
			}
		}
	}

	if _, ok := Version(target); ok {
		return ClassVersioned
	}

	if request.Header.Get(constants.HeaderSecFetchMode) == "navigate" ||
		strings.Contains(request.Header.Get(constants.HeaderAccept), "text/html") {
		return ClassNavigation
	}

	if strings.HasPrefix(target.Path, "/api/") ||
		strings.Contains(request.Header.Get(constants.HeaderAccept), "application/json") {
		return ClassAPI
	}

	return ClassOther
}

// # Versioning

// BaseURL is the logical identity of a cached resource: origin plus path.
func BaseURL(target *url.URL) string {
	return target.Scheme + "://" + target.Host + target.Path
}

// Version parses the numeric "v" query parameter.
func Version(target *url.URL) (int64, bool) {
	raw := target.Query().Get("v")
	if raw == "" {
		return 0, false
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return version, true
}

// versionOf orders cache keys; missing or non-numeric versions count as 0.
func versionOf(key string) int64 {
	target, err := url.Parse(key)
	if err != nil {
		return 0
	}
	version, _ := Version(target)
	return version
}
