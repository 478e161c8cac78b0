package clients

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// fakeSpamd accepts one SPAMC REPORT request and answers with a canned
// spamd response.
func fakeSpamd(t *testing.T, response string) (host string, port int) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		var contentLength int
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			if name, value, ok := strings.Cut(line, ":"); ok &&
				strings.EqualFold(name, "Content-length") {
				contentLength, _ = strconv.Atoi(strings.TrimSpace(value))
			}
		}
		io.CopyN(io.Discard, reader, int64(contentLength))
		conn.Write([]byte(response))
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ = strconv.Atoi(portStr)
	return host, port
}

const spamdReport = "SPAMD/1.1 0 EX_OK\r\n" +
	"Content-length: 300\r\n" +
	"Spam: True ; 7.5 / 5.0\r\n" +
	"\r\n" +
	"Content analysis details:   (7.5 points, 5.0 required)\r\n" +
	"\r\n" +
	" pts rule name              description\r\n" +
	"---- ---------------------- --------------------------------------------------\r\n" +
	" 3.5 BAYES_99               Bayes spam probability is 99 to 100%\r\n" +
	" 4.0 URIBL_BLACK            Contains an URL listed in the URIBL blacklist\r\n" +
	"-0.0 NO_RELAYS              Informational: message was not relayed via SMTP\r\n"

func TestSpamAssassinReport(t *testing.T) {
	host, port := fakeSpamd(t, spamdReport)
	client, err := NewSpamAssassin(host, port, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Report(context.Background(), []byte("Subject: test\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if !result.IsSpam {
		t.Error("expected IsSpam")
	}
	if result.Score != 7.5 || result.Threshold != 5.0 {
		t.Errorf("score %v / %v, want 7.5 / 5.0", result.Score, result.Threshold)
	}
	if len(result.Rules) != 3 {
		t.Fatalf("got %d rules, want 3: %+v", len(result.Rules), result.Rules)
	}
	first := result.Rules[0]
	if first.Name != "BAYES_99" || first.Score != 3.5 ||
		!strings.Contains(first.Description, "Bayes spam probability") {
		t.Errorf("unexpected first rule: %+v", first)
	}
	if last := result.Rules[2]; last.Name != "NO_RELAYS" || last.Score != -0.0 {
		t.Errorf("unexpected last rule: %+v", last)
	}
}

func TestSpamAssassinReportHam(t *testing.T) {
	response := "SPAMD/1.1 0 EX_OK\r\n" +
		"Spam: False ; -0.1 / 5.0\r\n" +
		"\r\n"
	host, port := fakeSpamd(t, response)
	client, err := NewSpamAssassin(host, port, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Report(context.Background(), []byte("hi"))
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if result.IsSpam {
		t.Error("ham flagged as spam")
	}
	if result.Score != -0.1 {
		t.Errorf("score %v, want -0.1", result.Score)
	}
	if len(result.Rules) != 0 {
		t.Errorf("unexpected rules: %+v", result.Rules)
	}
}

func TestSpamAssassinRejectedRequest(t *testing.T) {
	host, port := fakeSpamd(t, "SPAMD/1.0 76 EX_PROTOCOL Bad header line\r\n\r\n")
	client, err := NewSpamAssassin(host, port, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Report(context.Background(), []byte("hi")); err == nil {
		t.Fatal("expected an error for a non-EX_OK response")
	}
}

func TestSpamAssassinConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	client, err := NewSpamAssassin(host, port, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Report(context.Background(), []byte("hi")); err == nil {
		t.Fatal("expected a connection error")
	}
}

func TestNewSpamAssassinRequiresHost(t *testing.T) {
	if _, err := NewSpamAssassin("", 783, 0); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v, want ErrCredentialMissing", err)
	}
}

func TestNewSpamAssassinDefaults(t *testing.T) {
	client, err := NewSpamAssassin("localhost", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if client.Port != 783 {
		t.Errorf("port = %d, want 783", client.Port)
	}
	if client.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", client.Timeout)
	}
}
