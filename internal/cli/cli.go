// Package cli implements the meshmorph command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/meshmorph/internal/config"
	"github.com/Faultbox/meshmorph/internal/logger"
	"github.com/Faultbox/meshmorph/pkg/formats"
	"github.com/Faultbox/meshmorph/pkg/mesh"
)

var (
	version = "dev" // semantic version, injected via ldflags
	commit  string  // git commit SHA
	date    string  // build timestamp
)

// SetVersion sets the version information displayed by --version.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// CLI holds shared state for all commands.
type CLI struct {
	overrides config.Overrides
	cfg       *config.Config
	log       *zap.Logger
}

// New creates a CLI. Configuration and logging are set up when a command
// runs.
func New() *CLI {
	return &CLI{cfg: config.Default(), log: logger.Nop()}
}

// Execute runs the meshmorph CLI with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := New().RootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "meshmorph",
		Short: "meshmorph transfers deformations between meshes",
		Long: `meshmorph carries the deformation between two poses of a source mesh onto
other meshes with radial basis functions, and records transform positions
against a mesh surface so they can follow it when it deforms.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) { logger.Sync() },
	}

	root.SetVersionTemplate(fmt.Sprintf("meshmorph %s\ncommit: %s\nbuilt: %s\n", version, commit, date))

	flags := root.PersistentFlags()
	flags.StringVar(&c.overrides.ConfigPath, "config", "", "path to config file")
	flags.BoolVarP(&c.overrides.Debug, "debug", "d", false, "enable debug logging")
	flags.StringVar(&c.overrides.LogFile, "log-file", "", "also write JSON logs to this file")

	root.AddCommand(c.retargetCommand())
	root.AddCommand(c.attachCommand())
	root.AddCommand(c.clusterCommand())
	root.AddCommand(c.configCommand())

	return root
}

// setup loads the configuration and initializes logging.
func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.overrides)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	c.cfg = cfg
	c.log = logger.Named(cmd.Name())
	c.log.Debug("configuration loaded",
		zap.String("config", c.overrides.ConfigPath),
		zap.String("level", cfg.Logging.Level))
	return nil
}

// loadMesh reads an OBJ file and names the mesh after the file.
func (c *CLI) loadMesh(path string) (*mesh.Mesh, error) {
	obj, err := formats.ParseOBJFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m, err := obj.Mesh(stem(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.log.Debug("loaded mesh",
		zap.String("path", path),
		zap.Int("vertices", m.VertexCount()),
		zap.Int("faces", m.FaceCount()))
	return m, nil
}

func (c *CLI) loadMeshes(paths []string) ([]*mesh.Mesh, error) {
	meshes := make([]*mesh.Mesh, len(paths))
	for i, p := range paths {
		m, err := c.loadMesh(p)
		if err != nil {
			return nil, err
		}
		meshes[i] = m
	}
	return meshes, nil
}

// stem returns the file name of path without directory or extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
