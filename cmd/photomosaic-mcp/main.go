package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/photomosaic-mcp/internal/pipeline"
	"github.com/ironsheep/photomosaic-mcp/internal/server"
	"github.com/ironsheep/photomosaic-mcp/internal/sprites"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("photomosaic-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("photomosaic-mcp - MCP server for photomosaic generation")
			fmt.Println()
			fmt.Println("Usage: photomosaic-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  MOSAIC_MCP_LOG_LEVEL=debug    Log level (debug, info, warn, error)")
			fmt.Println("  MOSAIC_MCP_CACHE_DIR=PATH     Disk cache for downloaded sprite sheets")
			fmt.Println("  MOSAIC_MCP_WORKERS=N          Matching workers (default: CPU count)")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	// Configure logging to stderr (stdout is for MCP protocol)
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	if lvl := os.Getenv("MOSAIC_MCP_LOG_LEVEL"); lvl != "" {
		level, err := log.ParseLevel(lvl)
		if err != nil {
			log.Warnf("Ignoring MOSAIC_MCP_LOG_LEVEL: %v", err)
		} else {
			log.SetLevel(level)
		}
	}
	log.Debugf("Photomosaic MCP Server v%s (built %s, commit %s)", Version, BuildTime, GitCommit)

	cacheDir, err := sheetCacheDir()
	if err != nil {
		log.Fatalf("Cache directory: %v", err)
	}
	fetcher, err := sprites.NewDefaultFetcher(cacheDir)
	if err != nil {
		log.Fatalf("Sheet fetcher: %v", err)
	}
	log.WithField("cacheDir", cacheDir).Debug("sheet cache")

	workers := 0
	if v := os.Getenv("MOSAIC_MCP_WORKERS"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &workers); err != nil || workers < 0 {
			log.Warnf("Ignoring MOSAIC_MCP_WORKERS=%q", v)
			workers = 0
		}
	}

	srv := server.New(pipeline.New(pipeline.Options{
		Fetcher: fetcher,
		Workers: workers,
	}))
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// sheetCacheDir picks MOSAIC_MCP_CACHE_DIR or a directory under the user
// cache dir. An empty result disables the disk cache.
func sheetCacheDir() (string, error) {
	if dir := os.Getenv("MOSAIC_MCP_CACHE_DIR"); dir != "" {
		return homedir.Expand(dir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", nil
	}
	return filepath.Join(base, "photomosaic-mcp", "sheets"), nil
}
