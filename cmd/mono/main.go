package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mono/internal"
	"github.com/starford/mono/internal/mcpserver"
	pkgconfig "github.com/starford/mono/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// open loads the configuration and wires the shared components.
func open(cmd *cli.Command, opts ...internal.Option) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.New(append([]internal.Option{internal.WithConfig(cfg)}, opts...)...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func syncOnce(ctx context.Context, cmd *cli.Command) error {
	app, err := open(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.NewService().SyncNow(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func exportNote(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("export: note name is required")
	}
	app, err := open(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()

	svc := app.NewService()
	n, err := svc.FindByName(ctx, name)
	if err != nil {
		return fmt.Errorf("export %q: %w", name, err)
	}
	view, err := svc.Markdown(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("export %q: %w", name, err)
	}
	_, err = fmt.Fprintln(os.Stdout, view.Markdown)
	return err
}

func importNotes(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return fmt.Errorf("import: at least one file is required")
	}
	app, err := open(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()

	svc := app.NewService()
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		n, err := svc.ImportMarkdown(ctx, filepath.Base(file), data)
		if err != nil {
			return fmt.Errorf("import %s: %w", file, err)
		}
		fmt.Fprintf(os.Stdout, "imported: %s (id %d)\n", n.Name, n.ID)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	app, err := open(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()

	return mcpserver.New(app.NewService(), version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "mono",
		Usage:   "Local-first notes mirrored as Markdown to a remote file store",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and background sync",
				Action: serve,
			},
			{
				Name:   "sync",
				Usage:  "Run one full sync pass and print the report",
				Action: syncOnce,
			},
			{
				Name:      "export",
				Usage:     "Print a note as Markdown",
				ArgsUsage: "<name>",
				Action:    exportNote,
			},
			{
				Name:      "import",
				Usage:     "Create notes from Markdown files",
				ArgsUsage: "<file>...",
				Action:    importNotes,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
