/*
PURPOSE:
  Read-only model and provider configuration the scheduler runs against,
  plus the resolver that turns a model into a provider adapter.

REQUIREMENTS:
  - Lookups never mutate the catalog; callers get copies.

ARCHITECTURE INTEGRATION:
  - Built by: internal/config.Config.Catalog()
  - Used by: internal/engine/scheduler.go

ERROR HANDLING:
  - Unknown providers surface from the resolver as configuration errors.

RELATED FILES:
  - internal/config/config.go
  - internal/provider/provider.go

MAINTENANCE:
  - Keep in sync with config fields that affect scheduling.
*/

package engine

import (
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/provider"
)

// Catalog is the read-only configuration a Scheduler runs against.
type Catalog struct {
	Models              []model.ModelSpec
	Providers           map[model.ProviderName]model.ProviderSettings
	SimilarityThreshold float64
	// LoopCap clamps RunConfig.LoopCount when positive.
	LoopCap    int
	HistoryCap int
}

// Model looks up a model by id.
func (c Catalog) Model(id string) (model.ModelSpec, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return model.ModelSpec{}, false
}

// Settings returns the provider settings for p; missing entries are zero.
func (c Catalog) Settings(p model.ProviderName) model.ProviderSettings {
	return c.Providers[p]
}

// Resolver maps a provider name onto its adapter.
type Resolver func(model.ProviderName) (provider.Provider, error)

// ProviderResolver resolves adapters that share one HTTP client.
func ProviderResolver(client *provider.Client) Resolver {
	return func(name model.ProviderName) (provider.Provider, error) {
		return provider.For(name, client)
	}
}
