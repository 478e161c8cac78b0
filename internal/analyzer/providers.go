package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/emlsentry/emlsentry/internal/clients"
	"github.com/emlsentry/emlsentry/internal/eml"
)

const (
	verdictSpamAssassin = "SpamAssassin"
	verdictOleID        = "oleid"
	verdictEmailRep     = "EmailRep"
	verdictVirusTotal   = "VirusTotal"
	verdictInQuest      = "InQuest"
	verdictOpenAI       = "OpenAI"
	verdictUrlScan      = "urlscan.io"
)

// spamAssassinProvider consumes the raw message bytes.
type spamAssassinProvider struct {
	client *clients.SpamAssassin
}

func (p *spamAssassinProvider) Name() string { return verdictSpamAssassin }

func (p *spamAssassinProvider) Analyze(ctx context.Context, job *Job) (Verdict, error) {
	result, err := p.client.Report(ctx, job.Raw)
	if err != nil {
		return Verdict{}, err
	}

	details := make([]Detail, 0, len(result.Rules))
	for _, rule := range result.Rules {
		details = append(details, Detail{
			Key:         rule.Name,
			Description: fmt.Sprintf("%s (score %.1f)", rule.Description, rule.Score),
		})
	}
	return Verdict{
		Name:      verdictSpamAssassin,
		Malicious: result.IsSpam,
		Details:   details,
	}, nil
}

// emailRepProvider consumes the sender address.
type emailRepProvider struct {
	client *clients.EmailRep
}

func (p *emailRepProvider) Name() string { return verdictEmailRep }

func (p *emailRepProvider) Analyze(ctx context.Context, job *Job) (Verdict, error) {
	from := job.Eml.Header.From
	report, err := p.client.Get(ctx, from)
	if err != nil {
		return Verdict{}, err
	}

	flags := make([]string, 0, 4)
	if report.Details.Blacklisted {
		flags = append(flags, "blacklisted")
	}
	if report.Details.MaliciousActivity {
		flags = append(flags, "malicious activity")
	}
	if report.Details.CredentialsLeaked {
		flags = append(flags, "credentials leaked")
	}
	if report.Details.Spam {
		flags = append(flags, "spam")
	}

	description := fmt.Sprintf("%s reputation, %d references", report.Reputation, report.References)
	if len(flags) > 0 {
		description += ": " + strings.Join(flags, ", ")
	}

	return Verdict{
		Name:      verdictEmailRep,
		Malicious: report.Suspicious || report.Details.Blacklisted || report.Details.MaliciousActivity,
		Details: []Detail{{
			Key:          from,
			Description:  description,
			ReferenceURL: fmt.Sprintf("https://emailrep.io/%s", from),
		}},
	}, nil
}

// virusTotalProvider consumes the derived SHA-256 set.
type virusTotalProvider struct {
	client *clients.VirusTotal
}

func (p *virusTotalProvider) Name() string { return verdictVirusTotal }

func (p *virusTotalProvider) Analyze(ctx context.Context, job *Job) (Verdict, error) {
	verdict := Verdict{Name: verdictVirusTotal, Details: []Detail{}}
	for _, hash := range job.Eml.SHA256s {
		report, err := p.client.GetFileReport(ctx, hash)
		if err != nil {
			return Verdict{}, err
		}
		if !report.Found {
			continue
		}
		total := report.Stats.Malicious + report.Stats.Suspicious +
			report.Stats.Undetected + report.Stats.Harmless
		verdict.Details = append(verdict.Details, Detail{
			Key:          hash,
			Description:  fmt.Sprintf("%d/%d engines flagged this file", report.Stats.Malicious, total),
			ReferenceURL: fmt.Sprintf("https://www.virustotal.com/gui/file/%s/detection", hash),
		})
		if report.Stats.Malicious > 0 {
			verdict.Malicious = true
		}
	}
	return verdict, nil
}

// inQuestProvider consumes the derived SHA-256 set.
type inQuestProvider struct {
	client *clients.InQuest
}

func (p *inQuestProvider) Name() string { return verdictInQuest }

func (p *inQuestProvider) Analyze(ctx context.Context, job *Job) (Verdict, error) {
	verdict := Verdict{Name: verdictInQuest, Details: []Detail{}}
	for _, hash := range job.Eml.SHA256s {
		report, err := p.client.SearchHash(ctx, hash)
		if err != nil {
			return Verdict{}, err
		}
		if !report.Found {
			continue
		}
		verdict.Details = append(verdict.Details, Detail{
			Key:          hash,
			Description:  fmt.Sprintf("classified as %s", report.Classification),
			ReferenceURL: fmt.Sprintf("https://labs.inquest.net/dfi/sha256/%s", hash),
		})
		if strings.EqualFold(report.Classification, "MALICIOUS") {
			verdict.Malicious = true
		}
	}
	return verdict, nil
}

// openAIProvider consumes the header and bodies and supplies commentary
// only; it never marks a message malicious on its own.
type openAIProvider struct {
	client *clients.OpenAI
}

func (p *openAIProvider) Name() string { return verdictOpenAI }

func (p *openAIProvider) Analyze(ctx context.Context, job *Job) (Verdict, error) {
	reply, err := p.client.SendPrompt(ctx, reviewPrompt(job.Eml), "")
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{
		Name:      verdictOpenAI,
		Malicious: false,
		Details: []Detail{{
			Key:         "assessment",
			Description: reply,
		}},
	}, nil
}

func reviewPrompt(e *eml.Eml) string {
	body := eml.PlainTextBody(e)
	if body == "" && len(e.Bodies) > 0 {
		body = e.Bodies[0].Content
	}
	return fmt.Sprintf(
		"Review the following email and describe, in a short paragraph, anything that looks like phishing or social engineering.\n\n%s\n\nBody:\n%s",
		e.Header, body)
}

// urlScanProvider consumes the derived URL set.
type urlScanProvider struct {
	client *clients.UrlScan
}

func (p *urlScanProvider) Name() string { return verdictUrlScan }

func (p *urlScanProvider) Analyze(ctx context.Context, job *Job) (Verdict, error) {
	verdict := Verdict{Name: verdictUrlScan, Details: []Detail{}}
	for _, pageURL := range job.Eml.URLs {
		result, err := p.client.Search(ctx, pageURL)
		if err != nil {
			return Verdict{}, err
		}
		if result.Total == 0 {
			continue
		}
		description := fmt.Sprintf("%d past scans", result.Total)
		if result.Malicious {
			description += ", flagged malicious"
			verdict.Malicious = true
		}
		verdict.Details = append(verdict.Details, Detail{
			Key:          pageURL,
			Description:  description,
			ReferenceURL: result.ReportURL,
		})
	}
	return verdict, nil
}
