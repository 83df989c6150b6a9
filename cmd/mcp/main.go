package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	typelib "github.com/typestore/typestore/clients/library"
	"github.com/typestore/typestore/internal/filetype"
)

type MCPConfig struct {
	Coordinator string `yaml:"coordinator"`
}

func LoadConfig(path string) (*MCPConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaultConfig := &MCPConfig{Coordinator: "localhost:9000"}

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("Failed to create directory: %v", err)
		}

		data, err := yaml.Marshal(defaultConfig)
		if err != nil {
			return nil, fmt.Errorf("Failed to marshal default config: %v", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("Failed to write default config: %v", err)
		}

		return defaultConfig, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read config file: %v", err)
	}

	config := MCPConfig{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("Failed to unmarshal config: %v", err)
	}

	return &config, nil
}

// withClient opens a fresh connection to the coordinator for one tool
// call and closes it afterwards.
func withClient(cfg *MCPConfig, fn func(c *typelib.Client) (*mcp.CallToolResult, error)) (*mcp.CallToolResult, error) {
	c, err := typelib.Connect(cfg.Coordinator)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to connect to coordinator: %v", err)), nil
	}
	defer c.Close()
	return fn(c)
}

func addTools(s *server.MCPServer, cfg *MCPConfig) {
	listPartitionsTool := mcp.NewTool("list_partitions",
		mcp.WithDescription("List the file type partitions the cluster stores"),
	)
	s.AddTool(listPartitionsTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := "Partitions:\n"
		for _, ft := range filetype.All() {
			result += fmt.Sprintf("- %s\n", ft)
		}
		return mcp.NewToolResultText(result), nil
	})

	listFilesTool := mcp.NewTool("list_files",
		mcp.WithDescription("List stored files, optionally filtered by type tags and a path prefix"),
		mcp.WithString("filters", mcp.Description("Comma-separated type tags, e.g. image,video")),
		mcp.WithString("prefix", mcp.Description("Path prefix to narrow the listing")),
	)
	s.AddTool(listFilesTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var filters []string
		if raw := request.GetString("filters", ""); raw != "" {
			filters = strings.Split(raw, ",")
		}
		prefix := request.GetString("prefix", "")

		return withClient(cfg, func(c *typelib.Client) (*mcp.CallToolResult, error) {
			listing, err := c.List(filters, prefix)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to list files: %v", err)), nil
			}

			result := fmt.Sprintf("%d files:\n", len(listing.Files))
			for _, f := range listing.Files {
				result += fmt.Sprintf("- %s (%d bytes, sha256 %s)\n", f.Path, f.Size, f.SHA256)
			}
			for _, w := range listing.Warnings {
				result += fmt.Sprintf("warning: %s\n", w)
			}
			return mcp.NewToolResultText(result), nil
		})
	})

	storeFileTool := mcp.NewTool("store_file",
		mcp.WithDescription("Store text content as a file in the cluster"),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name with a supported extension, e.g. notes.txt")),
		mcp.WithString("content", mcp.Required(), mcp.Description("File content")),
	)
	s.AddTool(storeFileTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return withClient(cfg, func(c *typelib.Client) (*mcp.CallToolResult, error) {
			data := []byte(content)
			sum := sha256.Sum256(data)

			info, err := c.Upload(name, uint64(len(data)), hex.EncodeToString(sum[:]), bytes.NewReader(data))
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to store file: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Stored %s (%d bytes)", info.Path, info.Size)), nil
		})
	})

	fetchFileTool := mcp.NewTool("fetch_file",
		mcp.WithDescription("Fetch a stored file's content by its path"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Stored path, e.g. text/notes.txt")),
	)
	s.AddTool(fetchFileTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return withClient(cfg, func(c *typelib.Client) (*mcp.CallToolResult, error) {
			var buf bytes.Buffer
			if _, err := c.Download(path, &buf); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch file: %v", err)), nil
			}
			return mcp.NewToolResultText(buf.String()), nil
		})
	})

	deleteFileTool := mcp.NewTool("delete_file",
		mcp.WithDescription("Delete a stored file by its path"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Stored path, e.g. text/notes.txt")),
	)
	s.AddTool(deleteFileTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return withClient(cfg, func(c *typelib.Client) (*mcp.CallToolResult, error) {
			if err := c.Delete(path); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to delete file: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Deleted %s", path)), nil
		})
	})
}

func main() {
	configPath := flag.String("config", "mcp.yaml", "path to the MCP server configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"typestore",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, cfg)

	if err := server.ServeStdio(s); err != nil {
		fmt.Printf("Server error: %v\n", err)
	}
}
