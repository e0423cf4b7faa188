// Package main provides the entry point for the oracle-mcp-server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/zhengwanbo/oracle-mcp-server/internal/server"
	"github.com/zhengwanbo/oracle-mcp-server/pkg/platform"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(platform.ExitCode(err))
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "", "Transport type: stdio, sse, streamable")
	flag.StringVar(&opts.address, "address", "", "Server address for HTTP transports")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("oracle-mcp-server version %s\n", mcpserver.Version)
		return nil
	}

	ctx := setupSignalHandler()

	srv, p, err := mcpserver.New(opts.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	applyFlagOverrides(p, opts)

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}
	defer stopPlatform(p)

	return serve(ctx, srv, p.Config().Server)
}

// applyFlagOverrides lets the command line win over the config file.
func applyFlagOverrides(p *platform.Platform, opts serverOptions) {
	if opts.transport != "" {
		p.Config().Server.Transport = opts.transport
	}
	if opts.address != "" {
		p.Config().Server.Address = opts.address
	}
}

func stopPlatform(p *platform.Platform) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = p.Stop(ctx)
}

func serve(ctx context.Context, srv *mcp.Server, cfg platform.ServerConfig) error {
	switch cfg.Transport {
	case "stdio":
		return srv.Run(ctx, &mcp.StdioTransport{})
	case "sse":
		handler := mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		return serveHTTP(ctx, cfg.Address, handler)
	case "streamable":
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		return serveHTTP(ctx, cfg.Address, handler)
	default:
		return fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

func serveHTTP(ctx context.Context, address string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
