package protocol

import (
	"bytes"
	"strings"
)

// HeaderValue returns the text following pattern up to the end of its line.
// The pattern must start before eoh; the first occurrence wins, so repeated
// headers are not supported.
func HeaderValue(data []byte, eoh int, pattern string) (string, bool) {
	found := bytes.Index(data, []byte(pattern))
	if found < 0 || found >= eoh {
		return "", false
	}

	begin := found + len(pattern)
	end := bytes.Index(data[begin:], []byte(lineTerminator))
	if end < 0 {
		end = eoh
	} else {
		end += begin
	}
	if end < begin {
		return "", false
	}

	return string(data[begin:end]), true
}

// HeaderInt is HeaderValue for decimal headers. Parsing stops at the first
// non-digit, so "12abc" yields 12; a value with no leading digits is absent.
func HeaderInt(data []byte, eoh int, pattern string) (int, bool) {
	v, ok := HeaderValue(data, eoh, pattern)
	if !ok {
		return 0, false
	}
	return leadingInt(v)
}

// ResponseStatus extracts the numeric status that follows the protocol
// token, e.g. 200 from "HTTP/1.1 200 Added".
func ResponseStatus(startLine string) (int, bool) {
	pos := strings.IndexByte(startLine, ' ')
	if pos < 0 {
		return 0, false
	}
	return leadingInt(startLine[pos+1:])
}

// RequestPath returns the path token after the first '/' of a request
// line, cut at the next '/', '?' or space.
func RequestPath(startLine string) (string, bool) {
	pos := strings.IndexByte(startLine, '/')
	if pos < 0 {
		return "", false
	}

	rest := startLine[pos+1:]
	if end := strings.IndexAny(rest, "/? "); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

// IsOfferRequest reports whether the request line addresses the OFFER
// path, the only request shape the server role accepts.
func IsOfferRequest(startLine string) bool {
	path, ok := RequestPath(startLine)
	return ok && strings.HasPrefix(path, "OFFER")
}

// IsByeRequest reports whether data carries the "/BYE" marker anywhere.
// The match is intentionally loose: it runs over whatever has been
// buffered, not over a parsed request.
func IsByeRequest(data []byte) bool {
	return bytes.Contains(data, []byte("/"+ByeMessage))
}

// Entry is one decoded roster line.
type Entry struct {
	Name      string
	ID        int
	Connected bool
}

// DecodeEntry parses "name,id,connected". A missing third field means not
// connected; a missing or empty name rejects the entry.
func DecodeEntry(entry string) (Entry, bool) {
	var e Entry

	name, rest, found := strings.Cut(entry, ",")
	if !found || name == "" {
		return Entry{}, false
	}
	e.Name = name

	idField, connField, hasConn := strings.Cut(rest, ",")
	e.ID, _ = leadingInt(idField)
	if hasConn {
		v, _ := leadingInt(connField)
		e.Connected = v != 0
	}

	return e, true
}

// DecodeRoster decodes newline-terminated entries from a sign-in body,
// skipping undecodable lines and the caller's own id. A trailing fragment
// without a newline is ignored.
func DecodeRoster(body string, self int) []Entry {
	var entries []Entry

	for {
		line, rest, found := strings.Cut(body, "\n")
		if !found {
			break
		}
		body = rest

		e, ok := DecodeEntry(line)
		if !ok || e.ID == self {
			continue
		}
		entries = append(entries, e)
	}

	return entries
}

// leadingInt parses an optionally signed run of leading decimal digits,
// skipping leading spaces. It reports false when no digit is found.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t")

	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	n, digits := 0, 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		n = n*10 + int(s[digits]-'0')
		digits++
		if n > 1<<31 {
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}

	if neg {
		n = -n
	}
	return n, true
}
