package utils

import (
	"net/url"
	"strings"
)

// DefaultBaseURL is the patent search host documents are fetched from.
const DefaultBaseURL = "https://patentscope.wipo.int"

// NormalizeKey canonicalises a WO publication number, e.g. "wo 2018/162793" becomes "WO2018162793".
func NormalizeKey(raw string) string {
	return "WO" + KeyDigits(raw)
}

// KeyDigits strips the WO prefix, spaces and slashes from a publication number.
func KeyDigits(raw string) string {
	k := strings.ToUpper(strings.TrimSpace(raw))
	k = strings.TrimPrefix(k, "WO")
	k = strings.NewReplacer(" ", "", "/", "").Replace(k)
	return k
}

// DocumentURL returns the deterministic detail-page URL of a document key.
func DocumentURL(baseURL, key string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/search/en/detail.jsf?docId=WO" + KeyDigits(key)
}

// ToAbsoluteURL converts a relative URL to an absolute URL given a base URL.
func ToAbsoluteURL(base *url.URL, relative string) (string, error) {
	relURL, err := url.Parse(relative)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(relURL).String(), nil
}
