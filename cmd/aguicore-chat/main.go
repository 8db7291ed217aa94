// Command aguicore-chat is a terminal client for the conversation runtime:
// it wires the native or httpsse transport, the tool registry (builtin +
// optional MCP bridge), the in-memory or SQLite history cache, and the
// active-run notifier together into a single-thread REPL.
//
// Grounded on the teacher's cmd/redeven-agent/main.go: flag.NewFlagSet
// subcommands, SIGINT/SIGTERM graceful shutdown via signal.Notify, and
// welcome.go's term.IsTerminal/term.GetSize use for terminal-aware output.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"golang.org/x/term"

	"github.com/aguicore/runtime/internal/config"
	"github.com/aguicore/runtime/internal/conversation"
	"github.com/aguicore/runtime/internal/historycache"
	"github.com/aguicore/runtime/internal/historycache/memcache"
	"github.com/aguicore/runtime/internal/historycache/sqlitecache"
	"github.com/aguicore/runtime/internal/notifier"
	"github.com/aguicore/runtime/internal/registry"
	"github.com/aguicore/runtime/internal/runhandle"
	"github.com/aguicore/runtime/internal/tools"
	"github.com/aguicore/runtime/internal/tools/builtin"
	"github.com/aguicore/runtime/internal/tools/mcpbridge"
	"github.com/aguicore/runtime/internal/transport"
	"github.com/aguicore/runtime/internal/transport/httpsse"
	"github.com/aguicore/runtime/internal/transport/native"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

func main() {
	fs := flag.NewFlagSet("aguicore-chat", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a RuntimeConfig YAML file (defaults to ~/.aguicore/config.yaml if present)")
	provider := fs.String("provider", "anthropic", "Model backend: anthropic|openai|server")
	model := fs.String("model", "claude-sonnet-4-5", "Model id (anthropic/openai providers only)")
	serverURL := fs.String("server", "", "AG-UI server base URL (server provider only)")
	bearer := fs.String("bearer", "", "Bearer token for the server provider")
	mcpURL := fs.String("mcp", "", "Optional MCP server URL to bridge tools from")
	roomID := fs.String("room", "local", "Room id for the conversation thread key")
	threadID := fs.String("thread", "default", "Thread id for the conversation thread key")
	showVersion := fs.Bool("version", false, "Print version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("aguicore-chat %s\n", Version)
		return
	}

	cfg := loadRuntimeConfig(*configPath)

	effModel := *model
	effRoom := *roomID
	effServer := *serverURL
	effBearer := *bearer
	if cfg != nil {
		if strings.TrimSpace(cfg.DefaultModel) != "" && *model == "claude-sonnet-4-5" {
			effModel = cfg.DefaultModel
		}
		if strings.TrimSpace(cfg.RoomID) != "" && *roomID == "local" {
			effRoom = cfg.RoomID
		}
		if strings.TrimSpace(cfg.RestBaseURL) != "" && *serverURL == "" {
			effServer = cfg.RestBaseURL
		}
		if strings.TrimSpace(cfg.BearerTokenEnv) != "" && *bearer == "" {
			effBearer = strings.TrimSpace(os.Getenv(cfg.BearerTokenEnv))
		}
	}

	tr, err := buildTransport(*provider, effModel, effServer, effBearer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aguicore-chat: %v\n", err)
		os.Exit(1)
	}

	toolset := tools.Empty()
	wantHostStats := cfg == nil || cfg.Tools.HostStats
	if wantHostStats {
		toolset, err = toolset.Register(builtin.HostStatsDef, builtin.HostStatsExecutor{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "aguicore-chat: register host_stats: %v\n", err)
			os.Exit(1)
		}
	}

	mcpServers := []config.MCPServerEntry{}
	if *mcpURL != "" {
		mcpServers = append(mcpServers, config.MCPServerEntry{Name: "cli", Endpoint: *mcpURL})
	} else if cfg != nil {
		mcpServers = cfg.Tools.MCPServers
	}
	for i, entry := range mcpServers {
		mcpClient := mcpbridge.New(entry.Endpoint, "")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := mcpClient.Connect(ctx)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "aguicore-chat: mcp connect %s: %v\n", entry.Name, err)
			os.Exit(1)
		}
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		toolset, err = mcpClient.ListAndRegister(ctx, toolset, i+1)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "aguicore-chat: mcp list tools %s: %v\n", entry.Name, err)
			os.Exit(1)
		}
		defer mcpClient.Close()
	}

	cache := buildHistoryCache(cfg)
	defer cache.Close()

	reg := registry.New(func(key conversation.ThreadKey, handle *runhandle.Handle, completed conversation.Conversation) {
		if err := cache.Merge(key, completed, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "aguicore-chat: merge history: %v\n", err)
		}
	})

	key := conversation.NewThreadKey("", effRoom, *threadID)

	maxToolDepth := 0
	if cfg != nil {
		maxToolDepth = cfg.ToolDepthLimit()
	}

	done := make(chan struct{}, 1)
	n := notifier.New(notifier.Options{
		Transport:    tr,
		Registry:     reg,
		Cache:        cache,
		Tools:        toolset,
		MaxToolDepth: maxToolDepth,
		OnState: func(s runhandle.ActiveRunState) {
			renderState(s, done)
		},
	})
	n.View(key)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		n.CancelRun(key)
		cancel()
	}()

	fmt.Println("aguicore-chat — type a message and press enter, Ctrl-C to cancel a run, Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := n.StartRun(ctx, key, line, "", nil); err != nil {
			if err == notifier.ErrConcurrentStart {
				fmt.Println("(a run is already starting, please wait)")
				continue
			}
			fmt.Fprintf(os.Stderr, "aguicore-chat: start run: %v\n", err)
			continue
		}
		<-done
	}
}

// loadRuntimeConfig loads a RuntimeConfig from path, or from
// config.DefaultConfigPath() if path is empty and that file exists. A
// missing config (neither flag nor default path present) is not an
// error: the CLI falls back entirely to its flag defaults.
func loadRuntimeConfig(path string) *config.RuntimeConfig {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if explicit {
			fmt.Fprintf(os.Stderr, "aguicore-chat: load config %s: %v\n", path, err)
			os.Exit(1)
		}
		return nil
	}
	return cfg
}

// buildHistoryCache selects the SQLite-backed cache when the loaded
// config names a database path, falling back to the in-memory cache
// otherwise (SPEC_FULL.md §1.A, §6.A).
func buildHistoryCache(cfg *config.RuntimeConfig) historycache.Cache {
	if cfg == nil || strings.TrimSpace(cfg.HistoryDBPath) == "" {
		return memcache.New()
	}

	sweep, _ := time.ParseDuration(cfg.HistoryIdleSweep)
	maxAge, _ := time.ParseDuration(cfg.HistoryIdleMaxAge)
	opts := sqlitecache.Options{IdleMaxAge: maxAge}
	if sweep > 0 {
		opts.Schedule = "@every " + sweep.String()
	}

	cache, err := sqlitecache.Open(cfg.HistoryDBPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aguicore-chat: open sqlite history cache %s: %v\n", cfg.HistoryDBPath, err)
		os.Exit(1)
	}
	return cache
}

func buildTransport(provider, model, serverURL, bearer string) (transport.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic":
		apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		client := anthropic.NewClient(aoption.WithAPIKey(apiKey))
		return native.New(client), nil
	case "openai":
		apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		client := openai.NewClient(ooption.WithAPIKey(apiKey))
		return native.NewOpenAI(client, model), nil
	case "server":
		if strings.TrimSpace(serverURL) == "" {
			return nil, fmt.Errorf("-server is required for the server provider")
		}
		return httpsse.New(serverURL, bearer, nil), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func renderState(s runhandle.ActiveRunState, done chan struct{}) {
	width := terminalWidth(os.Stdout)

	switch s.Kind {
	case runhandle.StateRunning:
		if len(s.Conversation.Messages) == 0 {
			return
		}
		last := s.Conversation.Messages[len(s.Conversation.Messages)-1]
		if last.Kind == conversation.MessageKindText {
			fmt.Print("\r" + clipToWidth(last.Text, width))
		}
	case runhandle.StateExecutingTools:
		names := make([]string, 0, len(s.PendingTools))
		for _, tc := range s.PendingTools {
			names = append(names, tc.Name)
		}
		fmt.Printf("\n(running tools: %s)\n", strings.Join(names, ", "))
	case runhandle.StateCompleted:
		fmt.Println()
		switch s.Completion.Kind {
		case runhandle.CompletionFailed:
			fmt.Printf("(run failed: %s)\n", s.Completion.Reason)
		case runhandle.CompletionCancelled:
			fmt.Printf("(run cancelled: %s)\n", s.Completion.Reason)
		}
		done <- struct{}{}
	}
}

// clipToWidth keeps the in-progress streamed line from wrapping the
// terminal mid-word; it trims rather than wraps since the line is
// re-rendered in place on every delta.
func clipToWidth(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}
	return text[:width]
}

func terminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}
