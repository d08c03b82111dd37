// Package schedule runs configured sources on their cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/quillpress/quill/internal/config"
	"github.com/quillpress/quill/internal/pipeline"
)

// Scheduler fires the pipeline for each configured source on its cron
// schedule. Sources without a schedule are skipped; those run only via
// the CLI.
type Scheduler struct {
	cron   *cron.Cron
	engine *pipeline.Engine
}

// New builds a scheduler over the engine. It returns an error if any
// source carries an invalid cron expression, so bad config fails at
// startup rather than at fire time.
func New(engine *pipeline.Engine, sources []config.Source) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		engine: engine,
	}

	scheduled := 0
	for _, src := range sources {
		if src.Schedule == "" {
			continue
		}
		sourceRef := src.URL
		_, err := s.cron.AddFunc(src.Schedule, func() {
			s.run(sourceRef)
		})
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for source %s: %w", src.Schedule, src.URL, err)
		}
		scheduled++
	}

	log.Printf("[Scheduler] %d source(s) scheduled", scheduled)
	return s, nil
}

// Start begins firing scheduled sources.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// run processes one source. A held lease means another trigger for the
// same content is already in flight, which is normal under overlapping
// schedules.
func (s *Scheduler) run(sourceRef string) {
	item, err := s.engine.ProcessSource(context.Background(), sourceRef)
	if err != nil {
		if errors.Is(err, pipeline.ErrBusy) {
			log.Printf("[Scheduler] Source %s already in flight, skipping", sourceRef)
			return
		}
		log.Printf("[Scheduler] Source %s failed: %v", sourceRef, err)
		return
	}
	log.Printf("[Scheduler] Source %s settled as %s (%s)", sourceRef, item.State, item.Hash[:12])
}
