// Package config handles meshmorph configuration loading and management.
package config

import (
	"fmt"
	"strings"

	"github.com/Faultbox/meshmorph/pkg/attachment"
	"github.com/Faultbox/meshmorph/pkg/spatial"
)

// Config holds all tool settings.
type Config struct {
	Retarget   RetargetConfig   `yaml:"retarget"`
	RBF        RBFConfig        `yaml:"rbf"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Skin       SkinConfig       `yaml:"skin"`
	Attachment AttachmentConfig `yaml:"attachment"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RetargetConfig holds mesh retargeting settings.
type RetargetConfig struct {
	MaxVertices             int     `yaml:"max_vertices"`              // Largest target solved as one cluster
	RadiusMultiplier        float64 `yaml:"radius_multiplier"`         // Scales the per-cluster source radius
	Query                   string  `yaml:"query"`                     // radius, distance, nearest_radius or skin
	DistanceK               int     `yaml:"distance_k"`                // Neighbors per target vertex for the distance query
	NearestRadiusMultiplier float64 `yaml:"nearest_radius_multiplier"` // Scales the nearest-neighbor distance for nearest_radius
	Workers                 int     `yaml:"workers"`                   // 0 uses every CPU
}

// RBFConfig holds solver settings.
type RBFConfig struct {
	DegeneracyCondition float64 `yaml:"degeneracy_condition"`
}

// ClusterConfig holds k-means settings.
type ClusterConfig struct {
	Seed          int64 `yaml:"seed"`
	Restarts      int   `yaml:"restarts"`
	MaxIterations int   `yaml:"max_iterations"`
}

// SkinConfig holds skin query settings.
type SkinConfig struct {
	WeightThreshold float64 `yaml:"weight_threshold"`
	MaxVertices     int     `yaml:"max_vertices"`
}

// AttachmentConfig holds transform export settings.
type AttachmentConfig struct {
	Method              string  `yaml:"method"`
	RBFRadiusMultiplier float64 `yaml:"rbf_radius_multiplier"`
	RayMaxDistance      float64 `yaml:"ray_max_distance"`
	Compress            bool    `yaml:"compress"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Retarget: RetargetConfig{
			MaxVertices:             1000,
			RadiusMultiplier:        1.0,
			Query:                   "radius",
			DistanceK:               10,
			NearestRadiusMultiplier: 1.5,
			Workers:                 0,
		},
		RBF: RBFConfig{
			DegeneracyCondition: 1e14,
		},
		Cluster: ClusterConfig{
			Seed:          42,
			Restarts:      10,
			MaxIterations: 300,
		},
		Skin: SkinConfig{
			WeightThreshold: 0.001,
			MaxVertices:     100,
		},
		Attachment: AttachmentConfig{
			Method:              "barycentric",
			RBFRadiusMultiplier: 1.5,
			RayMaxDistance:      100,
			Compress:            false,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Retarget.MaxVertices <= 0:
		return fmt.Errorf("retarget.max_vertices must be positive, got %d", c.Retarget.MaxVertices)
	case c.Retarget.RadiusMultiplier <= 0:
		return fmt.Errorf("retarget.radius_multiplier must be positive, got %g", c.Retarget.RadiusMultiplier)
	case c.Retarget.NearestRadiusMultiplier <= 0:
		return fmt.Errorf("retarget.nearest_radius_multiplier must be positive, got %g", c.Retarget.NearestRadiusMultiplier)
	case c.Retarget.Workers < 0:
		return fmt.Errorf("retarget.workers must not be negative, got %d", c.Retarget.Workers)
	case c.RBF.DegeneracyCondition <= 1:
		return fmt.Errorf("rbf.degeneracy_condition must be greater than 1, got %g", c.RBF.DegeneracyCondition)
	case c.Cluster.Restarts < 0:
		return fmt.Errorf("cluster.restarts must not be negative, got %d", c.Cluster.Restarts)
	case c.Cluster.MaxIterations < 0:
		return fmt.Errorf("cluster.max_iterations must not be negative, got %d", c.Cluster.MaxIterations)
	case c.Skin.WeightThreshold < 0 || c.Skin.WeightThreshold >= 1:
		return fmt.Errorf("skin.weight_threshold must be in [0, 1), got %g", c.Skin.WeightThreshold)
	case c.Skin.MaxVertices <= 0:
		return fmt.Errorf("skin.max_vertices must be positive, got %d", c.Skin.MaxVertices)
	case c.Attachment.RBFRadiusMultiplier <= 0:
		return fmt.Errorf("attachment.rbf_radius_multiplier must be positive, got %g", c.Attachment.RBFRadiusMultiplier)
	case c.Attachment.RayMaxDistance <= 0:
		return fmt.Errorf("attachment.ray_max_distance must be positive, got %g", c.Attachment.RayMaxDistance)
	}

	kind, err := spatial.ParseKind(c.Retarget.Query)
	if err != nil {
		return fmt.Errorf("retarget.query: %w", err)
	}
	if kind == spatial.KindDistance && c.Retarget.DistanceK <= 0 {
		return fmt.Errorf("retarget.distance_k must be positive, got %d", c.Retarget.DistanceK)
	}
	if _, err := attachment.ParseMethod(c.Attachment.Method); err != nil {
		return fmt.Errorf("attachment.method: %w", err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}
