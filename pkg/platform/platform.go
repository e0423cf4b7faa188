package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
	"github.com/zhengwanbo/oracle-mcp-server/pkg/registry"
	"github.com/zhengwanbo/oracle-mcp-server/pkg/schema"
	oracletk "github.com/zhengwanbo/oracle-mcp-server/pkg/toolkits/oracle"
)

// Platform is the application context: every shared resource is
// constructed here once and handed to the tool handlers explicitly.
type Platform struct {
	config *Config
	logger *slog.Logger

	conn   *connector.Connector
	store  *schema.Store
	cache  *schema.Cache
	prober *schema.Prober

	toolkitRegistry *registry.Registry
	mcpServer       *mcp.Server
	lifecycle       *Lifecycle
}

// New builds the platform from configuration. Failures carry the process
// exit code: 1 for configuration, 2 for an unreachable database, 3 for a
// broken cache directory.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Config == nil {
		return nil, configErr(fmt.Errorf("config is required"))
	}

	p := &Platform{
		config:    options.Config,
		logger:    options.Logger,
		lifecycle: NewLifecycle(),
	}
	if p.logger == nil {
		// stdout carries the stdio MCP transport; logs go to stderr.
		p.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if err := p.initComponents(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Platform) initComponents() error {
	cfg := p.config

	conn, err := connector.New(connector.Config{
		ConnectionString: cfg.ConnectionString,
		TargetSchema:     cfg.TargetSchema,
		ThickMode:        cfg.ThickMode,
		LibDir:           cfg.ClientLibDir,
		PoolSize:         cfg.PoolSize,
		AcquireTimeout:   cfg.AcquireTimeout(),
	}, p.logger)
	if err != nil {
		if connector.CodeOf(err) == connector.CodeConnection {
			return unreachableErr(err)
		}
		return configErr(err)
	}
	p.conn = conn
	p.lifecycle.RegisterCloser(conn)

	store, err := schema.NewStore(cfg.CacheDir)
	if err != nil {
		return cacheDirErr(err)
	}
	p.store = store

	p.cache = schema.New(conn.Schema(), conn.Catalog(), store, p.logger)

	p.toolkitRegistry = registry.New()
	p.toolkitRegistry.RegisterFactory("oracle", func(name string, _ map[string]any) (registry.Toolkit, error) {
		return oracletk.New(name, p.cache, p.conn, oracletk.Config{
			ToolDeadline: cfg.ToolDeadline(),
		}), nil
	})
	if err := p.toolkitRegistry.CreateAndRegister("oracle", "default", nil); err != nil {
		return configErr(err)
	}

	p.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)
	p.toolkitRegistry.RegisterAllTools(p.mcpServer)

	p.lifecycle.OnStart(func(ctx context.Context) error {
		stats, err := p.cache.Warmup(ctx)
		if err != nil {
			return err
		}
		p.logger.Info("schema cache ready",
			"tables", stats.Tables, "fingerprint", stats.Fingerprint)
		return nil
	})

	if cfg.StalenessProbe {
		p.prober = schema.NewProber(p.cache)
		p.lifecycle.OnStart(func(context.Context) error { return p.prober.Start() })
		p.lifecycle.OnStop(func(context.Context) error { p.prober.Stop(); return nil })
	}
	return nil
}

// Start warms the cache and starts background components.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop shuts the platform down in reverse start order.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// Close releases every resource. Safe after a failed Start.
func (p *Platform) Close() error {
	var errs []error
	if p.toolkitRegistry != nil {
		if err := p.toolkitRegistry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing platform: %v", errs)
	}
	return nil
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server { return p.mcpServer }

// Config returns the platform configuration.
func (p *Platform) Config() *Config { return p.config }

// Cache returns the schema cache.
func (p *Platform) Cache() *schema.Cache { return p.cache }

// Connector returns the Oracle connector.
func (p *Platform) Connector() *connector.Connector { return p.conn }

// ToolkitRegistry returns the toolkit registry.
func (p *Platform) ToolkitRegistry() *registry.Registry { return p.toolkitRegistry }
