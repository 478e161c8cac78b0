package analyzer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
)

// oleIDProvider statically inspects attachments for macro indicators. It
// runs locally, needs no credential and is always part of the enabled set.
type oleIDProvider struct{}

func (p *oleIDProvider) Name() string { return verdictOleID }

func (p *oleIDProvider) Analyze(_ context.Context, job *Job) (Verdict, error) {
	verdict := Verdict{Name: verdictOleID, Details: []Detail{}}
	for _, attachment := range job.Eml.Attachments {
		data, err := attachment.Bytes()
		if err != nil {
			return Verdict{}, err
		}
		findings := inspectAttachment(data)
		for _, finding := range findings.notes() {
			verdict.Details = append(verdict.Details, Detail{
				Key:         attachment.FileName,
				Description: finding,
			})
		}
		if findings.macroContainer && len(findings.autoExec) > 0 {
			verdict.Malicious = true
		}
	}
	return verdict, nil
}

var oleMagic = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}

var autoExecKeywords = []string{
	"AutoOpen", "AutoExec", "AutoClose", "Auto_Open",
	"Document_Open", "DocumentOpen", "Workbook_Open",
}

var suspiciousKeywords = []string{
	"Shell", "CreateObject", "GetObject", "powershell",
	"cmd.exe", "URLDownloadToFile",
}

type oleFindings struct {
	kind           string // "ole", "ooxml" or ""
	macroContainer bool
	autoExec       []string
	suspicious     []string
}

func (f oleFindings) notes() []string {
	var notes []string
	switch f.kind {
	case "ole":
		notes = append(notes, "OLE container")
	case "ooxml":
		notes = append(notes, "OOXML archive")
	}
	if f.macroContainer {
		notes = append(notes, "VBA macros present")
	}
	for _, kw := range f.autoExec {
		notes = append(notes, fmt.Sprintf("auto-exec keyword %s", kw))
	}
	for _, kw := range f.suspicious {
		notes = append(notes, fmt.Sprintf("suspicious keyword %s", kw))
	}
	return notes
}

// inspectAttachment scans one attachment payload for document-macro
// indicators. The keyword scan is a heuristic over the raw bytes, not a
// macro decompiler.
func inspectAttachment(data []byte) oleFindings {
	findings := oleFindings{}
	scanTargets := [][]byte{data}

	switch {
	case bytes.HasPrefix(data, oleMagic):
		findings.kind = "ole"
		findings.macroContainer = containsKeyword(data, "VBA")
	case bytes.HasPrefix(data, []byte("PK")):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			break
		}
		findings.kind = "ooxml"
		for _, file := range zr.File {
			if !strings.HasSuffix(file.Name, "vbaProject.bin") {
				continue
			}
			findings.macroContainer = true
			rc, err := file.Open()
			if err != nil {
				continue
			}
			macroBytes, err := io.ReadAll(io.LimitReader(rc, 1<<22))
			rc.Close()
			if err == nil {
				scanTargets = append(scanTargets, macroBytes)
			}
		}
	}

	for _, target := range scanTargets {
		for _, kw := range autoExecKeywords {
			if containsKeyword(target, kw) && !contains(findings.autoExec, kw) {
				findings.autoExec = append(findings.autoExec, kw)
			}
		}
		for _, kw := range suspiciousKeywords {
			if containsKeyword(target, kw) && !contains(findings.suspicious, kw) {
				findings.suspicious = append(findings.suspicious, kw)
			}
		}
	}
	return findings
}

// containsKeyword matches both the ASCII and the UTF-16LE spelling, since
// office containers store strings either way.
func containsKeyword(data []byte, keyword string) bool {
	if bytes.Contains(data, []byte(keyword)) {
		return true
	}
	return bytes.Contains(data, utf16LE(keyword))
}

func utf16LE(s string) []byte {
	encoded := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(encoded)*2)
	for _, r := range encoded {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
