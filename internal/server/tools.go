package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Session Inputs
		{
			Name:        "mosaic_load_catalog",
			Description: "Load a tile catalog JSON file produced by the tile analyzer. Replaces any previous catalog and discards cached placements and sprite sheets.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Path to the catalog JSON file. Relative sheet locations are resolved against its directory."),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "mosaic_load_image",
			Description: "Load the target image the mosaic should reproduce and return its dimensions and identity.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Path to the target image (PNG, JPEG, GIF or WebP)"),
				},
				"required": []string{"path"},
			},
		},

		// Pipeline Stages
		{
			Name:        "mosaic_generate",
			Description: "Match tiles to the target image and render a preview. Placements are recomputed only when tileSize, textureWeight or the image change; otherwise only the render runs. Returns a base64-encoded PNG unless outputPath is given.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tileSize": map[string]interface{}{
						"type":        "integer",
						"description": "Grid cell size in target pixels (>= 1). Default 20",
						"default":     20,
						"minimum":     1,
					},
					"textureWeight": map[string]interface{}{
						"type":        "number",
						"description": "Weight of texture similarity against color, 0-2. Default 1.0",
						"default":     1.0,
						"minimum":     0,
						"maximum":     2,
					},
					"blendOpacity": map[string]interface{}{
						"type":        "integer",
						"description": "Soft-light blend of the original image, 0-100. Default 30",
						"default":     30,
					},
					"edgeOpacity": map[string]interface{}{
						"type":        "integer",
						"description": "Multiply blend of the edge overlay, 0-100. Default 20",
						"default":     20,
					},
					"brightnessCompensation": map[string]interface{}{
						"type":        "integer",
						"description": "How far tiles are brightened or darkened toward the cell lightness, 0-100. Default 50",
						"default":     50,
					},
					"showGrid": map[string]interface{}{
						"type":        "boolean",
						"description": "Draw cell boundaries on the preview. Default false",
						"default":     false,
					},
					"gridColor": map[string]interface{}{
						"type":        "string",
						"description": "Grid line color as hex (#RRGGBB or #RRGGBBAA). Default #FF000080",
					},
					"outputPath": pathProperty("Optional path to write the preview PNG to instead of returning it inline"),
				},
			},
		},
		{
			Name:        "mosaic_export",
			Description: "Render the current placements at export scale from the full-resolution sprite sheets and write a JPEG. Waits for the background prefetch and fetches any missing sheets first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"outputPath": pathProperty("Path of the JPEG file to write"),
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Resolution scale relative to the target image (>= 1). Default 2.0",
						"default":     2.0,
						"minimum":     1,
					},
					"quality": map[string]interface{}{
						"type":        "number",
						"description": "JPEG quality 0-1. Default 0.92",
						"default":     0.92,
					},
				},
				"required": []string{"outputPath"},
			},
		},
		{
			Name:        "mosaic_status",
			Description: "Report the pipeline state, loaded inputs, current placement generation, prefetch progress and stage counters.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Placement Snapshots
		{
			Name:        "mosaic_save_placements",
			Description: "Save the current placements as a compressed snapshot so a later session can skip matching.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Snapshot file to write (conventionally *.mosaic.zst)"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "mosaic_restore_placements",
			Description: "Restore placements from a snapshot. The snapshot must match the loaded target image and catalog.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Snapshot file to read"),
				},
				"required": []string{"path"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
