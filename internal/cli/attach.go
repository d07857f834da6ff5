package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/meshmorph/internal/transfer"
	"github.com/Faultbox/meshmorph/pkg/attachment"
	"github.com/Faultbox/meshmorph/pkg/math"
)

// transformEntry is one transform in a transforms file.
//
//	- name: hand
//	  parent: arm
//	  position: [0.4, 1.2, 0]
//	  rotation: [0, 0, 0, 1]  # x y z w, optional
type transformEntry struct {
	Name     string     `yaml:"name"`
	Parent   string     `yaml:"parent,omitempty"`
	Position [3]float64 `yaml:"position,flow"`
	Rotation []float64  `yaml:"rotation,omitempty,flow"`
}

func readTransforms(path string) ([]transfer.Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []transformEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]transfer.Transform, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%s: transform %d has no name", path, i)
		}
		t := transfer.Transform{
			Name:     e.Name,
			Parent:   e.Parent,
			Position: math.V3(e.Position[0], e.Position[1], e.Position[2]),
		}
		switch len(e.Rotation) {
		case 0:
		case 4:
			q := math.Quat{X: e.Rotation[0], Y: e.Rotation[1], Z: e.Rotation[2], W: e.Rotation[3]}.Normalize()
			t.Rotation = &q
		default:
			return nil, fmt.Errorf("%s: transform %q: rotation needs 4 components, got %d", path, e.Name, len(e.Rotation))
		}
		out[i] = t
	}
	return out, nil
}

func writeTransforms(w io.Writer, transforms []transfer.Transform) error {
	entries := make([]transformEntry, len(transforms))
	for i, t := range transforms {
		entries[i] = transformEntry{
			Name:     t.Name,
			Parent:   t.Parent,
			Position: [3]float64{t.Position.X, t.Position.Y, t.Position.Z},
		}
		if t.Rotation != nil {
			entries[i].Rotation = []float64{t.Rotation.X, t.Rotation.Y, t.Rotation.Z, t.Rotation.W}
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return err
	}
	return enc.Close()
}

func (c *CLI) attachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Record transform positions against a mesh and restore them",
	}
	cmd.AddCommand(c.attachExportCommand())
	cmd.AddCommand(c.attachImportCommand())
	return cmd
}

func (c *CLI) transferOptions() transfer.Options {
	return transfer.Options{
		RBFRadiusMultiplier: c.cfg.Attachment.RBFRadiusMultiplier,
		RayMaxDistance:      c.cfg.Attachment.RayMaxDistance,
		ConditionLimit:      c.cfg.RBF.DegeneracyCondition,
		Logger:              c.log.Named("transfer"),
	}
}

// optionalMesh loads path, or returns a nil interface when path is empty.
func (c *CLI) optionalMesh(path string) (transfer.Mesh, error) {
	if path == "" {
		return nil, nil
	}
	m, err := c.loadMesh(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *CLI) attachExportCommand() *cobra.Command {
	var meshPath, transformsPath, method, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Record transforms against a mesh",
		Long: `Export records the transforms listed in a YAML file against a mesh. The
default method stores positions verbatim, barycentric stores the closest
surface point and rbf stores the vertices around each transform. Records
whose path ends in .zst are zstd compressed.`,
		Example: `  meshmorph attach export --mesh body.obj --transforms joints.yaml --method rbf --out joints.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if method == "" {
				method = c.cfg.Attachment.Method
			}
			m, err := attachment.ParseMethod(method)
			if err != nil {
				return err
			}
			transforms, err := readTransforms(transformsPath)
			if err != nil {
				return err
			}
			surface, err := c.optionalMesh(meshPath)
			if err != nil {
				return err
			}

			rec, err := transfer.Export(transforms, m, surface, c.transferOptions())
			if err != nil {
				return err
			}

			if c.cfg.Attachment.Compress && !attachment.IsCompressedPath(out) {
				out += attachment.CompressedSuffix
			}
			if err := attachment.Save(out, rec); err != nil {
				return err
			}
			c.log.Info("exported transforms",
				zap.String("record", out),
				zap.String("method", string(rec.Method)),
				zap.Int("transforms", len(rec.Transforms)))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d transforms to %s\n", len(rec.Transforms), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&meshPath, "mesh", "m", "", "mesh to record against")
	cmd.Flags().StringVar(&transformsPath, "transforms", "", "YAML transforms file (required)")
	cmd.Flags().StringVar(&method, "method", "", "default, barycentric or rbf (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "record path (required)")
	_ = cmd.MarkFlagRequired("transforms")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func (c *CLI) attachImportCommand() *cobra.Command {
	var meshPath, recordPath, out string

	cmd := &cobra.Command{
		Use:     "import",
		Short:   "Restore recorded transforms against a deformed mesh",
		Example: `  meshmorph attach import --mesh body_fat.obj --record joints.json --out joints_fat.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := attachment.Load(recordPath)
			if err != nil {
				return err
			}
			surface, err := c.optionalMesh(meshPath)
			if err != nil {
				return err
			}

			transforms, err := transfer.Import(rec, surface, c.transferOptions())
			if err != nil {
				return err
			}
			c.log.Info("imported transforms",
				zap.String("record", recordPath),
				zap.String("method", string(rec.Method)),
				zap.Int("transforms", len(transforms)))

			if out == "" {
				return writeTransforms(cmd.OutOrStdout(), transforms)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := writeTransforms(f, transforms); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&meshPath, "mesh", "m", "", "deformed mesh")
	cmd.Flags().StringVar(&recordPath, "record", "", "record written by export (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "YAML output path (default stdout)")
	_ = cmd.MarkFlagRequired("record")

	return cmd
}
