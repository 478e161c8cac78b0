package analyzer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// runAll fans one goroutine out per provider and waits for every unit to
// finish. Results keep the providers' submission order regardless of
// completion order; a failed or panicked unit is logged and leaves no
// entry. Nothing cancels sibling units.
func (a *Analyzer) runAll(ctx context.Context, job *Job, providers []Provider) []Verdict {
	results := make([]*Verdict, len(providers))
	var wg sync.WaitGroup

	for i, provider := range providers {
		if a.sem != nil {
			if err := a.sem.Acquire(ctx, 1); err != nil {
				a.logger.WithError(err).WithField("provider", provider.Name()).
					Error("Failed to acquire analysis slot")
				continue
			}
		}

		wg.Add(1)
		go func(i int, provider Provider) {
			defer wg.Done()
			if a.sem != nil {
				defer a.sem.Release(1)
			}
			defer func() {
				if r := recover(); r != nil {
					a.logger.WithFields(logrus.Fields{
						"provider": provider.Name(),
						"panic":    r,
					}).Error("Provider panicked during analysis")
				}
			}()

			verdict, err := provider.Analyze(ctx, job)
			if err != nil {
				a.logger.WithError(err).WithField("provider", provider.Name()).
					Error("Provider analysis failed")
				return
			}
			results[i] = &verdict
		}(i, provider)
	}

	wg.Wait()

	verdicts := make([]Verdict, 0, len(providers))
	for _, verdict := range results {
		if verdict != nil {
			verdicts = append(verdicts, *verdict)
		}
	}
	return verdicts
}
