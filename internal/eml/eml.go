package eml

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Header holds the parsed message header fields used by the analyzers.
type Header struct {
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Cc        []string  `json:"cc"`
	Date      time.Time `json:"date"`
}

// String renders the header in a form suitable for free-text prompts.
func (h Header) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", h.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(h.To, ", "))
	fmt.Fprintf(&b, "Subject: %s", h.Subject)
	return b.String()
}

// Body is a single decoded text part of the message. AIText is the only
// field that may be attached after extraction (best-effort reviewer note).
type Body struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Hash        string `json:"hash"`
	AIText      string `json:"ai_text,omitempty"`
}

// Hashes holds every digest computed for an attachment.
type Hashes struct {
	MD5    string `json:"md5"`
	SHA1   string `json:"sha1"`
	SHA256 string `json:"sha256"`
	SHA512 string `json:"sha512"`
}

// Attachment is a decoded non-text part. Raw carries the part bytes
// base64-encoded so the attachment can round-trip through JSON.
type Attachment struct {
	FileName    string `json:"filename"`
	Extension   string `json:"extension"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Raw         string `json:"raw"`
	Hash        Hashes `json:"hash"`
}

// Bytes decodes the attachment payload.
func (a Attachment) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %q: %w", a.FileName, err)
	}
	return data, nil
}

// Eml is the structured representation of a parsed message plus the
// derived URL and hash sets. It is read-only once Parse returns.
type Eml struct {
	Header      Header       `json:"header"`
	Bodies      []Body       `json:"bodies"`
	Attachments []Attachment `json:"attachments"`
	URLs        []string     `json:"urls"`
	SHA256s     []string     `json:"sha256s"`
}

// Parse turns raw RFC 5322 bytes into an Eml. A message that cannot be
// parsed is a hard error; no partial artifact is returned.
func Parse(raw []byte) (*Eml, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse eml: %w", err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("read eml body: %w", err)
	}

	e := &Eml{Header: parseHeader(msg.Header)}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	err = e.addPart(
		contentType,
		msg.Header.Get("Content-Disposition"),
		msg.Header.Get("Content-Transfer-Encoding"),
		body,
	)
	if err != nil {
		return nil, err
	}

	e.deriveSets()
	return e, nil
}

// PlainTextBody returns the content of the first text/plain body, or ""
// when the message carries none.
func PlainTextBody(e *Eml) string {
	for _, body := range e.Bodies {
		if strings.HasPrefix(body.ContentType, "text/plain") {
			return body.Content
		}
	}
	return ""
}

// addPart classifies one MIME part, recursing into multipart containers.
func (e *Eml) addPart(contentType, disposition, encoding string, body []byte) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart section without boundary")
		}
		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read multipart section: %w", err)
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return fmt.Errorf("read part body: %w", err)
			}
			partType := part.Header.Get("Content-Type")
			if partType == "" {
				partType = "text/plain"
			}
			err = e.addPart(
				partType,
				part.Header.Get("Content-Disposition"),
				part.Header.Get("Content-Transfer-Encoding"),
				data,
			)
			if err != nil {
				return err
			}
		}
	}

	decoded := decodeTransferEncoding(encoding, body)
	filename := partFileName(disposition, params)
	if filename != "" || !strings.HasPrefix(mediaType, "text/") {
		e.Attachments = append(e.Attachments, newAttachment(filename, mediaType, decoded))
		return nil
	}

	e.Bodies = append(e.Bodies, Body{
		ContentType: mediaType,
		Content:     string(decoded),
		Hash:        sha256Hex(decoded),
	})
	return nil
}

// deriveSets fills the URL and SHA-256 sets from the collected parts.
func (e *Eml) deriveSets() {
	urls := make(map[string]struct{})
	hashes := make(map[string]struct{})

	for _, body := range e.Bodies {
		for _, u := range parseBodyURLs(body.Content, body.ContentType) {
			urls[u] = struct{}{}
		}
		hashes[body.Hash] = struct{}{}
	}
	for _, attachment := range e.Attachments {
		hashes[attachment.Hash.SHA256] = struct{}{}
	}

	e.URLs = sortedKeys(urls)
	e.SHA256s = sortedKeys(hashes)
}

func parseHeader(h mail.Header) Header {
	header := Header{
		MessageID: strings.Trim(h.Get("Message-ID"), "<>"),
		Subject:   decodeWord(h.Get("Subject")),
		To:        addressList(h, "To"),
		Cc:        addressList(h, "Cc"),
	}
	if addr, err := mail.ParseAddress(h.Get("From")); err == nil {
		header.From = addr.Address
	} else {
		header.From = strings.TrimSpace(h.Get("From"))
	}
	if date, err := h.Date(); err == nil {
		header.Date = date.UTC()
	}
	return header
}

func addressList(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		if raw := strings.TrimSpace(h.Get(key)); raw != "" {
			return []string{raw}
		}
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Address)
	}
	return out
}

func newAttachment(filename, mediaType string, data []byte) Attachment {
	if filename == "" {
		filename = "unnamed"
	}
	md5Sum := md5.Sum(data)
	sha1Sum := sha1.Sum(data)
	sha256Sum := sha256.Sum256(data)
	sha512Sum := sha512.Sum512(data)
	return Attachment{
		FileName:    filename,
		Extension:   strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		ContentType: mediaType,
		Size:        len(data),
		Raw:         base64.StdEncoding.EncodeToString(data),
		Hash: Hashes{
			MD5:    hex.EncodeToString(md5Sum[:]),
			SHA1:   hex.EncodeToString(sha1Sum[:]),
			SHA256: hex.EncodeToString(sha256Sum[:]),
			SHA512: hex.EncodeToString(sha512Sum[:]),
		},
	}
}

func partFileName(disposition string, contentTypeParams map[string]string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := params["filename"]; name != "" {
				return decodeWord(name)
			}
		}
	}
	return decodeWord(contentTypeParams["name"])
}

func decodeTransferEncoding(encoding string, body []byte) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, string(body))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return body
		}
		return decoded
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil {
			return body
		}
		return decoded
	default:
		return body
	}
}

func decodeWord(s string) string {
	decoder := mime.WordDecoder{}
	decoded, err := decoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
