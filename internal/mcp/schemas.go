package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Search ingested client documents with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"client_code": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one client by its 4-digit code",
				},
				"case_id": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one case",
				},
				"doc_types": map[string]interface{}{
					"type":        "array",
					"description": "Restrict to documents carrying any of these tags (e.g. W2, 1099, K1)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of citations to return (1-50)",
					"default":     10,
					"minimum":     1,
					"maximum":     50,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getSyncStatusTool returns the tool definition for get_sync_status
func getSyncStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_sync_status",
		Description: "Report NAS agent health, the approval backlog and today's processing counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// listSyncQueueTool returns the tool definition for list_sync_queue
func listSyncQueueTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_sync_queue",
		Description: "List newly detected clients and cases waiting for review",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Filter by review state",
					"enum":        []string{"pending", "approved", "rejected", "auto_approved"},
				},
				"limit": map[string]interface{}{
					"type":    "integer",
					"default": 50,
					"minimum": 1,
					"maximum": 500,
				},
				"offset": map[string]interface{}{
					"type":    "integer",
					"default": 0,
					"minimum": 0,
				},
			},
		},
	}
}

// getDocumentTool returns the tool definition for get_document
func getDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_document",
		Description: "Fetch a document's metadata, processing state and extracted tax form fields",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": map[string]interface{}{
					"type":        "string",
					"description": "Document identifier from a search citation",
				},
				"include_chunks": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include every chunk's text and page range",
					"default":     false,
				},
			},
			Required: []string{"document_id"},
		},
	}
}
