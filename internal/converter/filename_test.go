package converter

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInferFilenamePrefersContentDisposition(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("Content-Disposition", `attachment; filename="quarterly report.pdf"`)
	headers.Set("Content-Type", "application/pdf")

	got := inferFilename("https://example.com/download?id=42", headers)
	require.Equal(t, "quarterly_report.pdf", got)
}

func TestInferFilenameFallsBackToURLPath(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("Content-Type", "image/png")

	got := inferFilename("https://cdn.example.com/assets/logo.png?v=3", headers)
	require.Equal(t, "logo.png", got)
}

func TestInferFilenameUsesContentTypeExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", "file.jpg"},
		{"image/png", "file.png"},
		{"application/pdf", "file.pdf"},
		{"text/html; charset=utf-8", "file.html"},
		{"application/json", "file.json"},
		{"application/x-unknown", "file.bin"},
		{"", "file.bin"},
	}
	for _, tc := range tests {
		headers := http.Header{}
		if tc.contentType != "" {
			headers.Set("Content-Type", tc.contentType)
		}
		got := inferFilename("https://example.com/download", headers)
		require.Equal(t, tc.want, got, "content type %q", tc.contentType)
	}
}

func TestInferFilenameNilHeaders(t *testing.T) {
	t.Parallel()

	require.Equal(t, "file.bin", inferFilename("https://example.com/", nil))
	require.Equal(t, "a.png", inferFilename("https://example.com/a.png", nil))
}

func TestObjectKeyInsertsSuffix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "report_a1b2c3d4.pdf", ObjectKey("", "report.pdf", "a1b2c3d4"))
	require.Equal(t, "mirrored/logo_ff00ff00.png", ObjectKey("mirrored", "logo.png", "ff00ff00"))
	require.Equal(t, "mirrored/logo_ff00ff00.png", ObjectKey("mirrored/", "logo.png", "ff00ff00"))
	require.Equal(t, "file_01020304", ObjectKey("", "", "01020304"))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "safe-name_1.txt", SanitizeFilename("safe-name_1.txt"))
	require.Equal(t, "a_b.txt", SanitizeFilename("a b.txt"))
	require.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	require.Equal(t, "", SanitizeFilename("..."))
}

func TestContentTypeOf(t *testing.T) {
	t.Parallel()

	headers := http.Header{}
	headers.Set("Content-Type", "text/html; charset=utf-8")
	require.Equal(t, "text/html", contentTypeOf(headers))
	require.Equal(t, "application/octet-stream", contentTypeOf(nil))
	require.Equal(t, "application/octet-stream", contentTypeOf(http.Header{}))
}
