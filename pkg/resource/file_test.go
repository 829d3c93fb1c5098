package resource

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("Hello, streamloop!"), 0o600))
	binPath := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(binPath, []byte{0xff, 0xfe, 0x00}, 0o600))

	fetch := FileFetcher(dir)
	ctx := context.Background()

	tests := []struct {
		name    string
		uri     string
		wantErr bool
		check   func(t *testing.T, body []mcp.ResourceContents)
	}{
		{
			name: "absolute path",
			uri:  textPath,
			check: func(t *testing.T, body []mcp.ResourceContents) {
				require.Len(t, body, 1)
				assert.Equal(t, "Hello, streamloop!", body[0].(mcp.TextResourceContents).Text)
			},
		},
		{
			name: "file url",
			uri:  "file://" + textPath,
			check: func(t *testing.T, body []mcp.ResourceContents) {
				assert.Equal(t, "Hello, streamloop!", body[0].(mcp.TextResourceContents).Text)
			},
		},
		{
			name: "binary becomes blob",
			uri:  binPath,
			check: func(t *testing.T, body []mcp.ResourceContents) {
				blob := body[0].(mcp.BlobResourceContents)
				assert.Equal(t, "//4A", blob.Blob)
				assert.NotEmpty(t, blob.MIMEType)
			},
		},
		{name: "relative path", uri: "relative/path.txt", wantErr: true},
		{name: "outside root", uri: filepath.Join(filepath.Dir(dir), "elsewhere.txt"), wantErr: true},
		{name: "missing file", uri: filepath.Join(dir, "missing.txt"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := fetch(ctx, tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, body)
		})
	}
}

func TestFileFetcherTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", maxFileBytes+10)), 0o600))

	body, err := FileFetcher("")(context.Background(), path)
	require.NoError(t, err)
	text := body[0].(mcp.TextResourceContents).Text
	assert.True(t, strings.HasPrefix(text, strings.Repeat("a", maxFileBytes)))
	assert.Contains(t, text, "truncated, 10 chars omitted")
}
