package device

import (
	"context"
	"sort"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/ctxlog"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/pipeline"
)

// Extractor turns device sources into contracts in parallel.
type Extractor struct {
	// Workers is the number of parsing goroutines; < 1 means one.
	Workers int
	// Cache, when set, is consulted before parsing and filled after.
	Cache *Cache
}

// Run extracts a contract from every device source and returns them sorted
// by name. Sources that declare no device are dropped.
func (e Extractor) Run(ctx context.Context, sources []Source) ([]Contract, error) {
	log := ctxlog.FromContext(ctx).With("phase", "contracts")
	log.Debug("extracting contracts", "sources", len(sources), "workers", e.Workers)

	contracts, err := pipeline.Run(ctx, sources, e.Workers, e.extract, pipeline.Collect[Contract])
	if err != nil {
		return nil, err
	}

	sort.Slice(contracts, func(i, j int) bool { return contracts[i].Name < contracts[j].Name })
	log.Info("contracts extracted", "devices", len(contracts))
	return contracts, nil
}

func (e Extractor) extract(ctx context.Context, src Source) (Contract, bool, error) {
	if e.Cache != nil {
		if c, ok, hit := e.Cache.get(src); hit {
			ctxlog.FromContext(ctx).Debug("contract cache hit", "device", src.Name)
			return c, ok, nil
		}
	}
	c, ok, err := Extract(ctx, src)
	if err != nil {
		return Contract{}, false, err
	}
	if !ok {
		ctxlog.FromContext(ctx).Debug("not a device source", "name", src.Name)
	}
	if e.Cache != nil {
		e.Cache.put(src, c, ok)
	}
	return c, ok, nil
}
