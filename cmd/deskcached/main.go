package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/deskcache/internal/config"
	"github.com/matheus3301/deskcache/internal/daemon"
	"github.com/matheus3301/deskcache/internal/workspace"
	"go.uber.org/fx"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.deskcache/config.toml)")
	httpFlag := flag.String("http", "", "HTTP listen address (overrides http.addr)")
	flag.Parse()

	name := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = workspace.ConfigPath()
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Workspace: name,
			Config:    cfg,
			HTTPAddr:  *httpFlag,
		}),
	)

	app.Run()
}
