// Package mcp implements the Model Context Protocol (MCP) server for docsync.
//
// The MCP server exposes four tools to AI assistants working on client files:
//   - search_documents: Hybrid search over ingested document chunks
//   - get_sync_status: NAS agent health and today's processing counts
//   - list_sync_queue: Clients and cases waiting for approval
//   - get_document: Document metadata, stored field extraction and chunks
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
//	docsync-mcp --config /etc/docsync/config.toml
//
// It then listens on stdin for MCP protocol messages and writes responses to
// stdout. Logs go to stderr.
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "name": "search_documents",
//	  "arguments": {
//	    "query": "mortgage interest paid 2024",
//	    "client_code": "1001",
//	    "doc_types": ["1098"],
//	    "top_k": 5
//	  }
//	}
//
//	Response:
//	{
//	  "query": "mortgage interest paid 2024",
//	  "total_results": 1,
//	  "cache_hit": false,
//	  "duration_ms": 41,
//	  "citations": [
//	    {
//	      "document_id": "6c1f...",
//	      "document_filename": "1098.pdf",
//	      "chunk_id": 912,
//	      "page_start": 1,
//	      "page_end": 1,
//	      "snippet": "Mortgage interest received from payer(s)/borrower(s) ...",
//	      "relevance_score": 0.83,
//	      "rank": 1
//	    }
//	  ]
//	}
//
// # Tool: get_document
//
//	Request:
//	{
//	  "name": "get_document",
//	  "arguments": {"document_id": "6c1f...", "include_chunks": true}
//	}
//
// The response carries the document, its extraction when one was stored and,
// when requested, every chunk's text and page range.
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, embedder, etc.)
//   - -32004: Query parameter is empty
//   - -32005: Document not found
package mcp
