package manager

import (
	"log/slog"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
	"github.com/nulpointcorp/uir-gateway/internal/providers/elastic"
	"github.com/nulpointcorp/uir-gateway/internal/providers/googlesearch"
	"github.com/nulpointcorp/uir-gateway/internal/providers/pinecone"
	"github.com/nulpointcorp/uir-gateway/internal/providers/qdrant"
)

// DefaultFactory maps provider names to adapter constructors. Unknown names
// fall back to a kind-based default so renamed providers still resolve.
func DefaultFactory(cfg *providers.ProviderConfig, log *slog.Logger, met *metrics.Registry) (providers.Adapter, error) {
	switch cfg.Name {
	case "google", "googlesearch":
		return googlesearch.New(cfg, log, met)
	case "elasticsearch", "elastic":
		return elastic.New(cfg, log, met)
	case "pinecone":
		return pinecone.New(cfg, log, met)
	case "qdrant":
		return qdrant.New(cfg, log, met)
	}

	switch cfg.Kind {
	case providers.KindSearchEngine:
		return googlesearch.New(cfg, log, met)
	case providers.KindDocumentStore:
		return elastic.New(cfg, log, met)
	case providers.KindVectorDB:
		return pinecone.New(cfg, log, met)
	}

	return nil, providers.E(providers.KindValidation, cfg.Name, "unknown provider %q of kind %q", cfg.Name, cfg.Kind)
}
