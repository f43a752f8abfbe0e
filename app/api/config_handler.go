package api

import (
	"github.com/gofiber/fiber/v2"

	"ragingest/config"
)

// IndexSettings is the non-secret part of the configuration clients need to
// interpret results.
type IndexSettings struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Dimension    int    `json:"dimension,omitempty"`
	Metric       string `json:"metric"`
	ChunkMaxSize int    `json:"chunk_max_size"`
	ChunkUnit    string `json:"chunk_unit"`
	DefaultK     int    `json:"default_k"`
	MaxK         int    `json:"max_k"`
}

type ConfigHandler struct {
	settings IndexSettings
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		settings: IndexSettings{
			Provider:     cfg.Embedding.Provider,
			Model:        cfg.Embedding.Model,
			Dimension:    cfg.Embedding.Dimension,
			Metric:       cfg.Index.Metric,
			ChunkMaxSize: cfg.Chunking.MaxSize,
			ChunkUnit:    cfg.Chunking.Unit,
			DefaultK:     cfg.Server.DefaultK,
			MaxK:         cfg.Server.MaxK,
		},
	}
}

func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	return c.JSON(h.settings)
}
