// Package main provides the cartgw-cli command-line tool for managing the
// CartGateway.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	edgegateway "github.com/cartwheel-labs/edge-gateway"
	"github.com/cartwheel-labs/edge-gateway/internal/version"
)

const usage = `cartgw-cli — CartGateway command line tool

Usage:
  cartgw-cli <command> [arguments]

Commands:
  validate <config-file>    Validate a gateway configuration file (JSON/YAML)
  routes [config-file]      Print the resolved route table
  token <secret> <subject> <role> [lifetime]
                            Sign a test credential (development only)
  version                   Print version info
  help                      Show this help
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "validate":
		cmdValidate()
	case "routes":
		cmdRoutes()
	case "token":
		cmdToken()
	case "version":
		cmdVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}

func cmdValidate() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: cartgw-cli validate <config-file>")
		os.Exit(1)
	}

	cfg, err := edgegateway.LoadConfig(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Config is valid\n")
	fmt.Printf("  Capabilities: %d\n", len(cfg.Capabilities))
	fmt.Printf("  Routes:       %d\n", len(cfg.Routes))
	fmt.Printf("  Rate limit:   %d per %s\n", cfg.RateLimit.Max, cfg.RateLimit.Window.Std())

	names := make([]string, 0, len(cfg.Capabilities))
	for name := range cfg.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("  Backends:     %s\n", strings.Join(names, ", "))
}

func cmdRoutes() {
	cfg := edgegateway.DefaultConfig()
	if len(os.Args) >= 3 {
		loaded, err := edgegateway.LoadConfig(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	gw, err := edgegateway.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building gateway: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = gw.Close()
	}()

	fmt.Printf("%-24s %-16s %-18s %-6s %s\n", "PREFIX", "CAPABILITY", "REWRITE", "AUTH", "ROLE")
	for _, e := range gw.RouteTable() {
		auth := "-"
		if e.RequiresAuth {
			auth = "yes"
		}
		role := e.RequiresRole
		if role == "" {
			role = "-"
		}
		rewrite := e.RewriteBase
		if rewrite == "" {
			rewrite = "-"
		}
		fmt.Printf("%-24s %-16s %-18s %-6s %s\n", e.Prefix, e.Capability, rewrite, auth, role)
	}
}

func cmdToken() {
	if len(os.Args) < 5 {
		fmt.Fprintln(os.Stderr, "Usage: cartgw-cli token <secret> <subject> <role> [lifetime]")
		os.Exit(1)
	}
	lifetime := "1h"
	if len(os.Args) >= 6 {
		lifetime = os.Args[5]
	}
	token, err := signToken(os.Args[2], os.Args[3], os.Args[4], lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func cmdVersion() {
	fmt.Printf("cartgw-cli %s\n", version.String())
}
