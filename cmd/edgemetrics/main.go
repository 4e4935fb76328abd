package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"edgemetrics/internal/agent"
	"edgemetrics/internal/api"
	"edgemetrics/internal/config"
	"edgemetrics/internal/controller"
	"edgemetrics/internal/metrics"
	"edgemetrics/internal/model"
	"edgemetrics/internal/stunutil"
)

const usage = `edgemetrics - distributed HTTP timing probes + aggregation service

Usage:
  edgemetrics server --config <path> [--listen addr] [--strict]
  edgemetrics agent --config <path> [--server url] [--auth token] [--protocol auto|h1|h2|h3] [--oneshot]
  edgemetrics metrics --server <url> | --in <snapshot.csv>
  edgemetrics export csv --server <url> --out <file>
  edgemetrics whoami [--config <path>] [--stun host:port,...]
  edgemetrics config check --config <path>
  edgemetrics config init --out <path>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "server":
		handleServer(os.Args[2:])
	case "agent":
		handleAgent(os.Args[2:])
	case "metrics":
		handleMetrics(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	case "whoami":
		handleWhoami(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	strict := fs.Bool("strict", false, "reject submissions for endpoints not in the config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Server == nil {
		fatal(errors.New("server config required"))
	}
	overrideServer(cfg.Server, *listen, *strict)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	srv, err := controller.NewServer(*cfg.Server)
	if err != nil {
		fatal(err)
	}
	defer srv.Close()

	ctx, cancel := signalContext()
	defer cancel()
	fatal(srv.ListenAndServe(ctx))
}

func handleAgent(args []string) {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	serverAddr := fs.String("server", "", "aggregation server base URL")
	auth := fs.String("auth", "", "node authorization code")
	protocol := fs.String("protocol", "", "round-trip protocol: auto, h1, h2 or h3")
	oneshot := fs.Bool("oneshot", false, "run one cycle immediately, print it and exit")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Agent == nil {
		cfg.Agent = &config.AgentConfig{}
	}
	overrideAgent(cfg.Agent, *serverAddr, *auth, *protocol)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(config.Config{Agent: cfg.Agent}); err != nil {
		fatal(err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	err = agent.Run(ctx, *cfg.Agent, agent.Options{Oneshot: *oneshot, Out: os.Stdout})
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func handleMetrics(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	serverAddr := fs.String("server", "", "aggregation server base URL")
	in := fs.String("in", "", "read a CSV snapshot instead of the server")
	_ = fs.Parse(args)

	var (
		items map[string]model.EndpointMetrics
		err   error
	)
	switch {
	case *in != "":
		items, err = metrics.ReadCSV(*in)
	case *serverAddr != "":
		err = printOverview(*serverAddr)
		if err == nil {
			items, err = fetchMetrics(*serverAddr)
		}
	default:
		err = errors.New("--server or --in is required")
	}
	if err != nil {
		fatal(err)
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no endpoints")
		return
	}
	fatal(metrics.RenderSnapshot(os.Stdout, items))
}

// printOverview shows the active notice, if any, and the reporting nodes.
func printOverview(serverAddr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := api.NewClient(normalizeBaseURL(serverAddr), "")

	n, err := client.Notice(ctx)
	if err != nil {
		return err
	}
	if n != nil {
		fmt.Fprintf(os.Stdout, "notice [%s]: %s\n\n", n.Severity, n.Message)
	}

	nodes, err := client.Nodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}
	if err := metrics.RenderNodes(os.Stdout, nodes); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	if args[0] != "csv" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", args[0])
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	serverAddr := fs.String("server", "", "aggregation server base URL")
	out := fs.String("out", "", "output file")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}
	if *serverAddr == "" {
		fatal(errors.New("--server is required"))
	}

	items, err := fetchMetrics(*serverAddr)
	if err != nil {
		fatal(err)
	}
	if err := metrics.WriteCSVFile(*out, items); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "exported %d endpoint(s) to %s\n", len(items), *out)
}

func handleWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	stunList := fs.String("stun", "", "comma-separated STUN servers")
	timeout := fs.Duration("timeout", 5*time.Second, "per-server timeout")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	var servers []string
	if cfg.Agent != nil {
		servers = cfg.Agent.STUNServers
	}
	if *stunList != "" {
		servers = splitList(*stunList)
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := stunutil.PublicIP(ctx, servers, *timeout)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "public_ip=%s\n", res.IP)
	for _, m := range res.Mapped {
		fmt.Fprintf(os.Stdout, "mapped=%s\n", m)
	}
	if !res.Stable {
		fmt.Fprintln(os.Stdout, "warning: public IP could not be confirmed by two servers; an IP lock may reject this node")
	}
}

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "config subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "check":
		configCheck(args[1:])
	case "init":
		configInit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func configCheck(args []string) {
	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	if cfg.Server != nil {
		fmt.Fprintf(os.Stdout, "server: nodes=%d endpoints=%d strict_endpoints=%t\n",
			len(cfg.Server.Nodes), len(cfg.Server.Endpoints), cfg.Server.StrictEndpoints)
		for _, name := range config.WeakCredentials(cfg.Server) {
			fmt.Fprintf(os.Stdout, "warning: node %q has a weak authorization code\n", name)
		}
	}
	if cfg.Agent != nil {
		fmt.Fprintf(os.Stdout, "agent: server=%s schedule=%q protocol=%s samples=%d\n",
			cfg.Agent.Server, cfg.Agent.Schedule, cfg.Agent.Protocol, cfg.Agent.Samples)
		if config.IsWeakCredential(cfg.Agent.Authorization) {
			fmt.Fprintln(os.Stdout, "warning: agent authorization code is weak")
		}
	}
	fmt.Fprintln(os.Stdout, "ok")
}

func configInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	out := fs.String("out", "", "path to write")
	_ = fs.Parse(args)

	if *out == "" {
		fatal(errors.New("--out is required"))
	}
	if _, err := os.Stat(*out); err == nil {
		fatal(fmt.Errorf("%s already exists", *out))
	}

	cfg := config.Config{
		Server: &config.ServerConfig{
			Nodes:     []model.Node{{Name: "node-1", Authorization: "change-me"}},
			Endpoints: []model.Endpoint{{Name: "home", URL: "https://example.com/"}},
		},
		Agent: &config.AgentConfig{
			Server:        "http://127.0.0.1:8080",
			Authorization: "change-me",
		},
	}
	if err := config.Save(*out, cfg); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *out)
}

func fetchMetrics(serverAddr string) (map[string]model.EndpointMetrics, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := api.NewClient(normalizeBaseURL(serverAddr), "").Metrics(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]model.EndpointMetrics(resp), nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func overrideServer(cfg *config.ServerConfig, listen string, strict bool) {
	if listen != "" {
		cfg.Listen = listen
	}
	if strict {
		cfg.StrictEndpoints = true
	}
}

func overrideAgent(cfg *config.AgentConfig, serverAddr, auth, protocol string) {
	if serverAddr != "" {
		cfg.Server = serverAddr
	}
	if auth != "" {
		cfg.Authorization = auth
	}
	if protocol != "" {
		cfg.Protocol = protocol
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "https://" + addr
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
