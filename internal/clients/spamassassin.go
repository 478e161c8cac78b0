package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SpamAssassin talks the SPAMC protocol to a spamd instance.
type SpamAssassin struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// SpamAssassinRule is one line of the spamd rule report.
type SpamAssassinRule struct {
	Name        string
	Score       float64
	Description string
}

// SpamAssassinResult is the parsed outcome of a REPORT command.
type SpamAssassinResult struct {
	IsSpam    bool
	Score     float64
	Threshold float64
	Rules     []SpamAssassinRule
}

// NewSpamAssassin initializes a SpamAssassin client. An empty host means
// the integration is not configured.
func NewSpamAssassin(host string, port int, timeout time.Duration) (*SpamAssassin, error) {
	if host == "" {
		return nil, fmt.Errorf("spamassassin host: %w", ErrCredentialMissing)
	}
	if port <= 0 {
		port = 783
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SpamAssassin{Host: host, Port: port, Timeout: timeout}, nil
}

// Name returns the name of the backend.
func (s *SpamAssassin) Name() string { return "SpamAssassin" }

// SetRateLimiter is a no-op; spamd is a local daemon, not a metered API.
func (s *SpamAssassin) SetRateLimiter(_ *RateLimiter) {}

// Report runs the message through spamd and returns the rule report.
func (s *SpamAssassin) Report(ctx context.Context, message []byte) (*SpamAssassinResult, error) {
	dialer := net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
	if err != nil {
		return nil, fmt.Errorf("connect to spamd: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set spamd deadline: %w", err)
	}

	var req bytes.Buffer
	req.WriteString("REPORT SPAMC/1.5\r\n")
	fmt.Fprintf(&req, "Content-length: %d\r\n", len(message))
	req.WriteString("\r\n")
	req.Write(message)

	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, fmt.Errorf("write to spamd: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return nil, fmt.Errorf("close spamd write side: %w", err)
		}
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read spamd response: %w", err)
	}
	return parseSpamdResponse(raw)
}

var (
	spamStatusPattern = regexp.MustCompile(`(?i)^spam:\s*(\S+)\s*;\s*(-?[\d.]+)\s*/\s*(-?[\d.]+)`)
	spamRulePattern   = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s+(\S+)\s+(.*)$`)
)

func parseSpamdResponse(raw []byte) (*SpamAssassinResult, error) {
	head, report, _ := strings.Cut(string(raw), "\r\n\r\n")

	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || !strings.Contains(lines[0], "EX_OK") {
		return nil, fmt.Errorf("spamd rejected request: %q", strings.TrimSpace(head))
	}

	result := &SpamAssassinResult{}
	for _, line := range lines[1:] {
		m := spamStatusPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		result.IsSpam = strings.EqualFold(m[1], "true") || m[1] == "Yes"
		result.Score, _ = strconv.ParseFloat(m[2], 64)
		result.Threshold, _ = strconv.ParseFloat(m[3], 64)
	}

	// Rule lines follow the "---- ----..." divider of the report table.
	seenDivider := false
	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(strings.TrimSpace(line), "----") {
			seenDivider = true
			continue
		}
		if !seenDivider {
			continue
		}
		if m := spamRulePattern.FindStringSubmatch(line); m != nil {
			score, _ := strconv.ParseFloat(m[1], 64)
			result.Rules = append(result.Rules, SpamAssassinRule{
				Name:        m[2],
				Score:       score,
				Description: strings.TrimSpace(m[3]),
			})
		}
	}

	return result, nil
}
