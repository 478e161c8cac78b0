package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/emlsentry/emlsentry/internal/clients"
	"github.com/emlsentry/emlsentry/internal/eml"
)

// Analyzer runs every enabled provider against a message and merges the
// surviving verdicts into one response.
type Analyzer struct {
	clients *clients.Set
	sem     *semaphore.Weighted
	logger  *logrus.Logger
}

// New initializes an Analyzer. maxConcurrency <= 0 leaves the fan-out
// unbounded (one goroutine per enabled provider).
func New(set *clients.Set, maxConcurrency int64, logger *logrus.Logger) *Analyzer {
	var sem *semaphore.Weighted
	if maxConcurrency > 0 {
		sem = semaphore.NewWeighted(maxConcurrency)
	}
	return &Analyzer{clients: set, sem: sem, logger: logger}
}

// Analyze parses the raw message, fans the enabled providers out and
// assembles the composite response. Only an unparsable message fails the
// request; provider failures merely shrink the verdict list.
func (a *Analyzer) Analyze(ctx context.Context, raw []byte) (*Response, error) {
	parsed, err := eml.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("extract artifact: %w", err)
	}

	// The id depends only on the input bytes, never on provider outcomes.
	sum := sha256.Sum256(raw)
	response := &Response{
		ID:  hex.EncodeToString(sum[:]),
		Eml: parsed,
	}

	job := &Job{Raw: raw, Eml: parsed}
	response.Verdicts = a.runAll(ctx, job, a.providers(job))
	a.annotate(response)

	names := make([]string, 0, len(response.Verdicts))
	for _, verdict := range response.Verdicts {
		names = append(names, verdict.Name)
	}
	a.logger.WithFields(logrus.Fields{
		"id":       response.ID,
		"verdicts": names,
	}).Debug("Analysis complete")

	return response, nil
}

// providers builds the enabled provider list for one job. The order is
// fixed; it is the order verdicts appear in every response.
func (a *Analyzer) providers(job *Job) []Provider {
	var list []Provider
	if a.clients.SpamAssassin != nil {
		list = append(list, &spamAssassinProvider{client: a.clients.SpamAssassin})
	}
	list = append(list, &oleIDProvider{})
	if a.clients.EmailRep != nil && job.Eml.Header.From != "" {
		list = append(list, &emailRepProvider{client: a.clients.EmailRep})
	}
	if a.clients.VirusTotal != nil {
		list = append(list, &virusTotalProvider{client: a.clients.VirusTotal})
	}
	if a.clients.InQuest != nil {
		list = append(list, &inQuestProvider{client: a.clients.InQuest})
	}
	if a.clients.OpenAI != nil {
		list = append(list, &openAIProvider{client: a.clients.OpenAI})
	}
	if a.clients.UrlScan != nil {
		list = append(list, &urlScanProvider{client: a.clients.UrlScan})
	}
	return list
}

// annotate copies the reviewer's assessment onto the bodies. This is the
// single post-extraction mutation the artifact permits.
func (a *Analyzer) annotate(response *Response) {
	for _, verdict := range response.Verdicts {
		if verdict.Name != verdictOpenAI || len(verdict.Details) == 0 {
			continue
		}
		for i := range response.Eml.Bodies {
			response.Eml.Bodies[i].AIText = verdict.Details[0].Description
		}
		return
	}
}
