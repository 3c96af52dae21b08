package pipeline

import (
	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/idtable"
)

// IDStats reports how the identifier table was loaded.
type IDStats struct {
	PMIDs     int  `json:"pmids"`
	PMCIDs    int  `json:"pmcids"`
	FromCache bool `json:"from_cache"`
}

// LoadTable loads the identifier table from its cache, building the cache
// from the PMC-ids dataset when absent or when force is set. Failure here
// aborts a run.
func (p *Pipeline) LoadTable(force bool) (*idtable.Table, *IDStats, error) {
	done := p.timed(StageIDs)
	defer done()

	root := p.cfg.DataDir
	res, err := idtable.LoadOrBuild(config.IDsCSVPath(root), config.IDsDBPath(root), force, p.logger)
	if err != nil {
		return nil, nil, err
	}

	pmids, pmcids := res.Table.Len()
	return res.Table, &IDStats{PMIDs: pmids, PMCIDs: pmcids, FromCache: res.FromCache}, nil
}
