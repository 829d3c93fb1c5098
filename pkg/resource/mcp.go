package resource

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ResourceReader is the subset of an MCP client needed to read resources.
// *client.Client from mcp-go satisfies it.
type ResourceReader interface {
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
}

// MCPFetcher adapts an MCP client into a FetchFunc.
func MCPFetcher(r ResourceReader) FetchFunc {
	return func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
		req := mcp.ReadResourceRequest{}
		req.Params.URI = uri
		res, err := r.ReadResource(ctx, req)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("resource: empty read result for %s", uri)
		}
		return res.Contents, nil
	}
}
