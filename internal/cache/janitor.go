package cache

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically sweeps expired entries from a set of stores.
type Janitor struct {
	cron   *cron.Cron
	stores []*Store
	log    zerolog.Logger
}

// NewJanitor creates a janitor that sweeps the given stores once a minute.
func NewJanitor(log zerolog.Logger, stores ...*Store) *Janitor {
	j := &Janitor{
		cron:   cron.New(),
		stores: stores,
		log:    log.With().Str("component", "cache-janitor").Logger(),
	}
	j.cron.AddFunc("* * * * *", j.sweepAll)
	return j
}

// Start begins the sweep schedule in a background goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.log.Info().Int("stores", len(j.stores)).Msg("Cache janitor started")
}

// Stop halts the schedule. In-flight sweeps finish before it returns.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.log.Info().Msg("Cache janitor stopped")
}

func (j *Janitor) sweepAll() {
	for _, s := range j.stores {
		if reaped := s.Sweep(); reaped > 0 {
			j.log.Debug().Str("cache", s.name).Int("reaped", reaped).Msg("Expired cache entries reaped")
		}
	}
}
