package converter

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// extByContentType maps common content types to file extensions for
// responses that expose neither a disposition filename nor a URL path name.
var extByContentType = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"application/pdf":  ".pdf",
	"text/plain":       ".txt",
	"text/html":        ".html",
	"application/json": ".json",
}

// inferFilename derives a filename for the mirrored object. Preference order:
// Content-Disposition filename, URL path basename, then an extension guessed
// from the content type with a generic stem.
func inferFilename(rawURL string, headers http.Header) string {
	if headers != nil {
		if _, params, err := mime.ParseMediaType(headers.Get("Content-Disposition")); err == nil {
			if name := SanitizeFilename(params["filename"]); name != "" && name != "." {
				return name
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		base := SanitizeFilename(path.Base(u.Path))
		if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}

	ext := ".bin"
	if headers != nil {
		if mediaType, _, err := mime.ParseMediaType(headers.Get("Content-Type")); err == nil {
			if mapped, ok := extByContentType[mediaType]; ok {
				ext = mapped
			}
		}
	}
	return "file" + ext
}

// ObjectKey builds the stored key by inserting a unique suffix before the
// extension, e.g. "report.pdf" with suffix "a1b2c3d4" becomes
// "report_a1b2c3d4.pdf".
func ObjectKey(prefix, filename, suffix string) string {
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	if stem == "" {
		stem = "file"
	}
	key := stem + "_" + suffix + ext
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	return key
}

// SanitizeFilename keeps a conservative character set so keys are safe for
// object stores and presigned URLs.
func SanitizeFilename(name string) string {
	name = path.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}

// contentTypeOf extracts the media type of a response, defaulting to a
// binary stream when absent or malformed.
func contentTypeOf(headers http.Header) string {
	if headers == nil {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(headers.Get("Content-Type"))
	if err != nil || mediaType == "" {
		return "application/octet-stream"
	}
	return mediaType
}
