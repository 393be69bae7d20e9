package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/photomosaic-mcp/internal/imaging"
	"github.com/ironsheep/photomosaic-mcp/internal/match"
	"github.com/ironsheep/photomosaic-mcp/internal/mosaicerr"
	"github.com/ironsheep/photomosaic-mcp/internal/pipeline"
	"github.com/ironsheep/photomosaic-mcp/internal/render"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "mosaic_generate").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	start := time.Now()
	result, err := s.executeTool(params.Name, params.Arguments)
	entry := log.WithFields(log.Fields{"tool": params.Name, "elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		entry.WithField("kind", mosaicerr.KindOf(err).String()).Warnf("tool failed: %v", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}
	entry.Debug("tool done")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Calls the pipeline
//  4. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	// Session Inputs
	case "mosaic_load_catalog":
		return s.handleLoadCatalog(args)
	case "mosaic_load_image":
		return s.handleLoadImage(args)

	// Pipeline Stages
	case "mosaic_generate":
		return s.handleGenerate(args)
	case "mosaic_export":
		return s.handleExport(args)
	case "mosaic_status":
		return s.pipeline.Status(), nil

	// Placement Snapshots
	case "mosaic_save_placements":
		return s.handleSavePlacements(args)
	case "mosaic_restore_placements":
		return s.handleRestorePlacements(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// expandPath resolves a leading ~ and rejects empty paths.
func expandPath(field, p string) (string, error) {
	if p == "" {
		return "", mosaicerr.Config("arguments", map[string]any{"field": field}, "%s is required", field)
	}
	return homedir.Expand(p)
}

// === Session Input Handlers ===

type pathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleLoadCatalog(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := expandPath("path", a.Path)
	if err != nil {
		return nil, err
	}
	cat, err := s.pipeline.LoadCatalog(path)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"tiles":      len(cat.Tiles),
		"patterns":   cat.NumPatterns(),
		"thumbSheet": cat.ThumbSheet(),
		"fullSheets": 0,
	}
	if cat.HasFull() {
		result["fullSheets"] = len(cat.TileSets.Full.Sheets())
	}
	return result, nil
}

func (s *Server) handleLoadImage(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := expandPath("path", a.Path)
	if err != nil {
		return nil, err
	}
	src, err := s.pipeline.LoadSource(path)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"width":    src.Width(),
		"height":   src.Height(),
		"format":   src.Format,
		"identity": src.Identity,
	}, nil
}

// === Pipeline Stage Handlers ===

type generateArgs struct {
	TileSize               *int     `json:"tileSize"`
	TextureWeight          *float64 `json:"textureWeight"`
	BlendOpacity           *int     `json:"blendOpacity"`
	EdgeOpacity            *int     `json:"edgeOpacity"`
	BrightnessCompensation *int     `json:"brightnessCompensation"`
	ShowGrid               bool     `json:"showGrid"`
	GridColor              string   `json:"gridColor"`
	OutputPath             string   `json:"outputPath"`
}

// params applies defaults for every field left out.
func (a generateArgs) params() (pipeline.Params, error) {
	p := pipeline.DefaultParams()
	if a.TileSize != nil {
		p.TileSize = *a.TileSize
	}
	if a.TextureWeight != nil {
		p.TextureWeight = *a.TextureWeight
	}
	if a.BlendOpacity != nil {
		p.BlendOpacity = *a.BlendOpacity
	}
	if a.EdgeOpacity != nil {
		p.EdgeOpacity = *a.EdgeOpacity
	}
	if a.BrightnessCompensation != nil {
		p.BrightnessCompensation = *a.BrightnessCompensation
	}
	p.ShowGrid = a.ShowGrid
	if a.GridColor != "" {
		c, err := imaging.ParseHexColor(a.GridColor)
		if err != nil {
			return p, mosaicerr.Config("arguments", map[string]any{"gridColor": a.GridColor}, "%w", err)
		}
		p.GridColor = c
	}
	return p, nil
}

func (s *Server) handleGenerate(args json.RawMessage) (interface{}, error) {
	var a generateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	params, err := a.params()
	if err != nil {
		return nil, err
	}

	prev, err := s.pipeline.Generate(context.Background(), params, s.matchProgress())
	if err != nil {
		return nil, err
	}
	img, err := prev.Image.Take()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := (render.PNGEncoder{}).Encode(&buf, img, 0); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	result := map[string]interface{}{
		"generation": prev.Generation,
		"width":      prev.Width,
		"height":     prev.Height,
		"placements": prev.Placements,
		"recomputed": prev.Recomputed,
		"timings":    prev.Timings.String(),
	}
	if a.OutputPath != "" {
		path, err := expandPath("outputPath", a.OutputPath)
		if err != nil {
			return nil, err
		}
		if err := writeAtomic(path, func(w io.Writer) error {
			_, err := w.Write(buf.Bytes())
			return err
		}); err != nil {
			return nil, fmt.Errorf("failed to write preview: %w", err)
		}
		result["outputPath"] = path
	} else {
		result["image"] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return result, nil
}

// matchProgress reports matching progress to the client in steps of
// roughly ten percent.
func (s *Server) matchProgress() match.Progress {
	var mu sync.Mutex
	last := -1
	return func(processed, total int) {
		if total <= 0 {
			return
		}
		step := processed * 10 / total
		mu.Lock()
		if step <= last {
			mu.Unlock()
			return
		}
		last = step
		mu.Unlock()
		s.notify("matching", map[string]interface{}{"processedRows": processed, "totalRows": total})
	}
}

type exportArgs struct {
	OutputPath string   `json:"outputPath"`
	Scale      *float64 `json:"scale"`
	Quality    *float64 `json:"quality"`
}

func (s *Server) handleExport(args json.RawMessage) (interface{}, error) {
	var a exportArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := expandPath("outputPath", a.OutputPath)
	if err != nil {
		return nil, err
	}
	params := pipeline.DefaultExportParams()
	if a.Scale != nil {
		params.Scale = *a.Scale
	}
	if a.Quality != nil {
		params.Quality = *a.Quality
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var rep *pipeline.ExportReport
	if err := writeAtomic(path, func(w io.Writer) error {
		var err error
		rep, err = s.pipeline.Export(context.Background(), params, w)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}

	return map[string]interface{}{
		"outputPath": path,
		"generation": rep.Generation,
		"width":      rep.Width,
		"height":     rep.Height,
		"bytes":      rep.Bytes,
		"prefetch":   rep.Prefetch,
		"onDemand":   rep.OnDemand,
		"timings":    rep.Timings.String(),
	}, nil
}

// === Placement Snapshot Handlers ===

func (s *Server) handleSavePlacements(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := expandPath("path", a.Path)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := s.pipeline.SavePlacements(&buf); err != nil {
		return nil, err
	}
	if err := writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	_, gen := s.pipeline.Placements()
	return map[string]interface{}{
		"path":       path,
		"generation": gen,
		"bytes":      buf.Len(),
	}, nil
}

func (s *Server) handleRestorePlacements(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	path, err := expandPath("path", a.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, mosaicerr.Config("snapshot", map[string]any{"path": path}, "failed to open snapshot: %w", err)
	}
	defer f.Close()

	gen, err := s.pipeline.RestorePlacements(f)
	if err != nil {
		return nil, err
	}
	set, _ := s.pipeline.Placements()
	return map[string]interface{}{
		"generation": gen,
		"placements": len(set),
	}, nil
}

// writeAtomic writes through a temp file beside path and renames it into
// place once write succeeds. A failed write leaves any existing file intact.
func writeAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mosaic-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = write(tmp)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
