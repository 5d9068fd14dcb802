// Package notification turns blob-created event payloads into the container
// and key of the object to process.
package notification

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/example/face-blur/internal/faces"
)

// Routing outcomes. Neither is a failure: the invocation ends without output.
var (
	ErrParseSkip          = errors.New("notification skipped")
	ErrNotSourceContainer = errors.New("blob is not in the source container")
)

// SubscriptionValidationEventType is sent once by the event broker when a
// webhook subscription is created.
const SubscriptionValidationEventType = "Microsoft.EventGrid.SubscriptionValidationEvent"

var blobPathPattern = regexp.MustCompile(`/containers/([^/]+)/blobs/(.+)$`)

// Event is the subset of a blob storage event the worker reads.
type Event struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	Subject   string    `json:"subject"`
	Data      EventData `json:"data"`
}

// EventData carries the blob URL and, for validation events, the handshake code.
type EventData struct {
	URL            string `json:"url"`
	ValidationCode string `json:"validationCode"`
}

// ValidationCode returns the handshake code of a subscription validation event.
func (e Event) ValidationCode() (string, bool) {
	if e.EventType != SubscriptionValidationEventType || e.Data.ValidationCode == "" {
		return "", false
	}
	return e.Data.ValidationCode, true
}

// IsRoutingOutcome reports whether err only means "nothing to do".
func IsRoutingOutcome(err error) bool {
	return errors.Is(err, ErrParseSkip) || errors.Is(err, ErrNotSourceContainer)
}

// DecodeBatch decodes a payload into one or more events. It accepts a JSON
// object, a JSON array of objects, a JSON string holding either, or the
// base64 encoding storage queues apply to message bodies.
func DecodeBatch(raw []byte) ([]Event, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrParseSkip)
	}

	switch payload[0] {
	case '{':
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: decode event: %v", ErrParseSkip, err)
		}
		return []Event{ev}, nil
	case '[':
		var events []Event
		if err := json.Unmarshal(payload, &events); err != nil {
			return nil, fmt.Errorf("%w: decode event batch: %v", ErrParseSkip, err)
		}
		if len(events) == 0 {
			return nil, fmt.Errorf("%w: empty event batch", ErrParseSkip)
		}
		return events, nil
	case '"':
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return nil, fmt.Errorf("%w: decode string payload: %v", ErrParseSkip, err)
		}
		return DecodeBatch([]byte(inner))
	}

	decoded, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is neither JSON nor base64", ErrParseSkip)
	}
	decoded = bytes.TrimSpace(decoded)
	if len(decoded) == 0 || (decoded[0] != '{' && decoded[0] != '[' && decoded[0] != '"') {
		return nil, fmt.Errorf("%w: base64 payload does not hold JSON", ErrParseSkip)
	}
	return DecodeBatch(decoded)
}

// Decode returns the first event of the payload. Callers that may receive a
// batch use DecodeBatch.
func Decode(raw []byte) (Event, error) {
	events, err := DecodeBatch(raw)
	if err != nil {
		return Event{}, err
	}
	return events[0], nil
}

// Parser extracts blob references and filters them to the source container.
type Parser struct {
	SourceContainer string
}

// NewParser builds a parser bound to the configured source container.
func NewParser(sourceContainer string) *Parser {
	return &Parser{SourceContainer: sourceContainer}
}

// Parse decodes raw and resolves the blob it refers to.
func (p *Parser) Parse(raw []byte) (faces.BlobRef, error) {
	ev, err := Decode(raw)
	if err != nil {
		return faces.BlobRef{}, err
	}
	return p.Resolve(ev)
}

// Resolve maps an already decoded event to a blob reference.
func (p *Parser) Resolve(ev Event) (faces.BlobRef, error) {
	ref, err := Extract(ev)
	if err != nil {
		return faces.BlobRef{}, err
	}
	if ref.Container != p.SourceContainer {
		return ref, fmt.Errorf("%w: %s", ErrNotSourceContainer, ref.Container)
	}
	return ref, nil
}

// Extract reads the container and key from the event subject, falling back
// to data.url when the subject is empty.
func Extract(ev Event) (faces.BlobRef, error) {
	if ev.Subject != "" {
		if ref, ok := matchBlobPath(ev.Subject); ok {
			return ref, nil
		}
		return faces.BlobRef{}, fmt.Errorf("%w: unrecognised subject %q", ErrParseSkip, ev.Subject)
	}
	if ev.Data.URL == "" {
		return faces.BlobRef{}, fmt.Errorf("%w: no subject or data.url", ErrParseSkip)
	}
	if ref, ok := matchBlobPath(ev.Data.URL); ok {
		return ref, nil
	}
	if ref, ok := parseBlobURL(ev.Data.URL); ok {
		return ref, nil
	}
	return faces.BlobRef{}, fmt.Errorf("%w: unrecognised url %q", ErrParseSkip, ev.Data.URL)
}

func matchBlobPath(s string) (faces.BlobRef, bool) {
	m := blobPathPattern.FindStringSubmatch(s)
	if m == nil {
		return faces.BlobRef{}, false
	}
	return faces.BlobRef{Container: m[1], Key: m[2]}, true
}

// parseBlobURL handles https://account.blob.core.windows.net/{container}/{key}.
func parseBlobURL(raw string) (faces.BlobRef, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return faces.BlobRef{}, false
	}
	container, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || container == "" || key == "" {
		return faces.BlobRef{}, false
	}
	return faces.BlobRef{Container: container, Key: key}, true
}
