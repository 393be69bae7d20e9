// Package server implements the MCP (Model Context Protocol) server for the
// photomosaic pipeline.
//
// The server exposes one pipeline session through the MCP protocol: a client
// loads a tile catalog and a target image, generates previews while tuning
// parameters, and finally exports a full-resolution JPEG.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Session Inputs:
//   - mosaic_load_catalog: Load and validate a tile catalog
//   - mosaic_load_image: Load the target image
//
// Pipeline Stages:
//   - mosaic_generate: Match (when needed) and render a preview
//   - mosaic_export: Render at export scale and write a JPEG
//   - mosaic_status: Pipeline state and counters
//
// Placement Snapshots:
//   - mosaic_save_placements: Write the current placements to disk
//   - mosaic_restore_placements: Reinstall saved placements
//
// # Concurrency
//
// Only one pipeline stage runs at a time. A tools/call that would start a
// stage while another is active fails immediately with a busy error rather
// than waiting.
//
// # Response Format
//
// Tool results are returned as JSON text inside MCP's content wrapper:
//
//	{
//	  "content": [{"type": "text", "text": "{\"width\": 800, ...}"}]
//	}
//
// Previews are returned as base64-encoded PNG in the "image" field unless an
// outputPath is given.
//
// # Error Handling
//
// Errors are returned as JSON-RPC errors:
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32000: Tool execution failed (config, catalog, network or render error)
package server
