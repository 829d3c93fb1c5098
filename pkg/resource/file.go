package resource

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxFileBytes caps text files so a single resource cannot overflow the context.
const maxFileBytes = 50000

// FileFetcher serves local files. URIs may be file:// URLs or absolute
// paths. When root is non-empty, paths outside root are rejected.
func FileFetcher(root string) FetchFunc {
	if root != "" {
		root = filepath.Clean(root)
	}
	return func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
		path, err := filePath(uri)
		if err != nil {
			return nil, err
		}
		if root != "" {
			rel, err := filepath.Rel(root, path)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return nil, fmt.Errorf("resource: path %s is outside %s", path, root)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("resource: read file: %w", err)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if !utf8.Valid(data) {
			if mimeType == "" {
				mimeType = defaultBlobMIME
			}
			return []mcp.ResourceContents{mcp.BlobResourceContents{
				URI:      uri,
				MIMEType: mimeType,
				Blob:     base64.StdEncoding.EncodeToString(data),
			}}, nil
		}

		content := string(data)
		if len(content) > maxFileBytes {
			content = content[:maxFileBytes] + fmt.Sprintf("\n... (truncated, %d chars omitted)", len(content)-maxFileBytes)
		}
		if mimeType == "" {
			mimeType = "text/plain"
		}
		return []mcp.ResourceContents{mcp.TextResourceContents{
			URI:      uri,
			MIMEType: mimeType,
			Text:     content,
		}}, nil
	}
}

const defaultBlobMIME = "application/octet-stream"

func filePath(uri string) (string, error) {
	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("resource: parse %s: %w", uri, err)
		}
		path = u.Path
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("resource: path must be absolute: %s", uri)
	}
	return filepath.Clean(path), nil
}
