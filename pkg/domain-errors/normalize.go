package domainerrors

import (
	"encoding/base64"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const (
	messageMarker = "__MESSAGE__"
	safeMarker    = "__SAFE__"
)

var codePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizedError is the terminal form of a failure. Message is wire-safe;
// Internal holds whatever must only reach server logs.
type NormalizedError struct {
	Status   int
	Code     Code
	Message  string
	Internal string
}

// Normalize converts any failure into a NormalizedError.
//
// Domain errors use their code table. Collaborator failures may carry a
// "<status>/<code>" signal, optionally followed by __MESSAGE__ and a base64
// message. Anything else becomes a 500 server-error with the raw text kept
// in Internal.
func Normalize(err error) NormalizedError {
	if err == nil {
		return internal("nil error normalized")
	}

	var de *Error
	if errors.As(err, &de) {
		n := NormalizedError{
			Status:   de.Code.Status(),
			Code:     de.Code,
			Internal: err.Error(),
		}
		switch {
		case de.Message == "":
		case de.Safe || n.Status < http.StatusInternalServerError:
			n.Message = de.Message
		default:
			n.Message = genericMessage(n.Status)
		}
		return n
	}

	raw := strings.TrimPrefix(err.Error(), "Error: ")
	if n, ok := ParseSignal(raw); ok {
		return n
	}
	return internal(raw)
}

// ParseSignal decodes a "<status>/<code>[__MESSAGE__<base64>]" string.
// It reports false when the input does not have that shape.
func ParseSignal(s string) (NormalizedError, bool) {
	statusPart, rest, found := strings.Cut(s, "/")
	if !found {
		return NormalizedError{}, false
	}
	status, err := strconv.Atoi(statusPart)
	if err != nil || status < 100 || status > 599 {
		return NormalizedError{}, false
	}

	code, encoded, hasMessage := strings.Cut(rest, messageMarker)
	if !codePattern.MatchString(code) {
		return NormalizedError{}, false
	}

	n := NormalizedError{Status: status, Code: Code(code), Internal: s}
	if !hasMessage {
		return n, true
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return n, true
	}
	message := string(decoded)
	if strings.Contains(message, safeMarker) {
		n.Message = strings.TrimSpace(strings.ReplaceAll(message, safeMarker, ""))
		return n, true
	}
	n.Internal = message
	n.Message = genericMessage(status)
	return n, true
}

// Signal encodes a failure in the collaborator signal format.
func Signal(status int, code Code, message string, safe bool) string {
	s := strconv.Itoa(status) + "/" + string(code)
	if message == "" {
		return s
	}
	if safe {
		message = safeMarker + message
	}
	return s + messageMarker + base64.StdEncoding.EncodeToString([]byte(message))
}

// SignalError adapts a signal string to the error interface for collaborators
// that report failures this way.
type SignalError string

func (e SignalError) Error() string { return string(e) }

func internal(raw string) NormalizedError {
	return NormalizedError{
		Status:   http.StatusInternalServerError,
		Code:     CodeInternal,
		Internal: raw,
	}
}

func genericMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Request failed"
}
