package cli

import (
	"fmt"
	"os"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/meshmorph/pkg/cluster"
)

// clusterFile is the JSON written by the cluster command.
type clusterFile struct {
	Mesh     string  `json:"mesh"`
	Vertices int     `json:"vertices"`
	Clusters [][]int `json:"clusters"`
}

func (c *CLI) clusterCommand() *cobra.Command {
	var (
		count int
		axis  string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "cluster <mesh.obj>",
		Short: "Partition mesh vertices into spatial clusters",
		Long: `Cluster groups the vertices of a mesh the way retarget does before solving.
By default the cluster count follows retarget.max_vertices and groups come
from k-means. With --axis the vertices are split into equal runs along x, y
or z instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.loadMesh(args[0])
			if err != nil {
				return err
			}
			positions := m.Vertices()

			k := count
			if k <= 0 {
				k = cluster.CountFor(len(positions), c.cfg.Retarget.MaxVertices)
			}

			var a cluster.Assignment
			if axis != "" {
				ax := strings.Index("xyz", strings.ToLower(axis))
				if ax < 0 || len(axis) != 1 {
					return fmt.Errorf("unknown axis %q (options: x, y, z)", axis)
				}
				a, err = cluster.SplitAxis(positions, k, ax)
			} else {
				a, err = cluster.Partition(positions, k, cluster.Options{
					Seed:          c.cfg.Cluster.Seed,
					Restarts:      c.cfg.Cluster.Restarts,
					MaxIterations: c.cfg.Cluster.MaxIterations,
					Logger:        c.log,
				})
			}
			if err != nil {
				return err
			}
			if err := a.Validate(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, g := range a.Groups {
				fmt.Fprintf(w, "cluster %d: %d vertices\n", i, len(g))
			}
			c.log.Info("clustered mesh",
				zap.String("mesh", m.Name()),
				zap.Int("vertices", len(positions)),
				zap.Int("clusters", a.Len()))

			if out == "" {
				return nil
			}
			data, err := gojson.Marshal(clusterFile{Mesh: m.Name(), Vertices: a.VertexCount, Clusters: a.Groups})
			if err != nil {
				return err
			}
			return os.WriteFile(out, data, 0644)
		},
	}

	cmd.Flags().IntVarP(&count, "clusters", "k", 0, "number of clusters (default from retarget.max_vertices)")
	cmd.Flags().StringVar(&axis, "axis", "", "split along x, y or z instead of k-means")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the clusters as JSON")

	return cmd
}
