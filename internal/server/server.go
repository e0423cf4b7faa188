// Package server provides a factory for creating the MCP server.
package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// New loads configuration and constructs the platform with its MCP
// server. The optional configPath carries the server block.
func New(configPath string) (*mcp.Server, *platform.Platform, error) {
	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = Version
	}

	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return p.MCPServer(), p, nil
}
