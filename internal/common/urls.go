package common

import (
	"net/url"
	"strings"
)

// JoinPath safely joins path segments, preventing duplicate slashes
func JoinPath(segments ...string) string {
	result := ""
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if result == "" {
			result = seg
		} else if result[len(result)-1] == '/' {
			if seg[0] == '/' {
				result += seg[1:]
			} else {
				result += seg
			}
		} else {
			if seg[0] == '/' {
				result += seg
			} else {
				result += "/" + seg
			}
		}
	}
	return result
}

// ResolveBaseOverride applies a base-URL override on top of the current base.
// An absolute override replaces the base entirely; a bare path prefix keeps
// the current scheme and host and swaps only the path.
func ResolveBaseOverride(current, override string) string {
	override = strings.TrimSpace(override)
	if override == "" {
		return current
	}

	parsed, err := url.Parse(override)
	if err != nil {
		return current
	}
	if parsed.IsAbs() {
		return strings.TrimRight(override, "/")
	}

	base, err := url.Parse(current)
	if err != nil || !base.IsAbs() {
		return strings.TrimRight(override, "/")
	}
	base.Path = "/" + strings.Trim(override, "/")
	base.RawQuery = ""
	return base.String()
}

// ResolveLocator resolves a poll or report locator against the backend base.
// Absolute locators are returned as-is; path locators are resolved against
// the base URL's host root, so "/status/run_1" lands next to "/orchestrate".
func ResolveLocator(base, locator string) string {
	locURL, err := url.Parse(locator)
	if err != nil {
		return locator
	}
	if locURL.IsAbs() {
		return locator
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return locator
	}
	return baseURL.ResolveReference(locURL).String()
}

// WithQueryParam returns rawURL with the given query parameter set,
// overwriting any existing value for that key.
func WithQueryParam(rawURL, key, value string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := parsed.Query()
	q.Set(key, value)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
