package extract

import (
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/pkg/envelope"
)

// Config bounds the candidate payload sizes the extractor will accept.
type Config struct {
	MaxEventSize int
}

// Result is the outcome of a successful extraction.
type Result struct {
	Event *Event
	// Source identifies which candidate precedence tier produced the event,
	// for telemetry and finalizer branching.
	Source string
}

const (
	sourceEvent       = "event_or_security"
	sourceTransaction = "transaction"
	sourceRawSecurity = "raw_security"
	sourceAttachments = "attachments"
	sourceFormData    = "form_data"
)

// Extract implements §4.8's precedence chain over env's items, removing
// every item of the chosen candidate's kind. In the event, transaction and
// raw-security tiers, an event-like item of another kind still present
// afterward fails the extraction with DuplicateItem.
func Extract(env *envelope.Envelope, cfg Config) (*Result, *errs.E) {
	if it := env.Find(func(i *envelope.Item) bool { return i.Kind == envelope.KindEvent || i.Kind == envelope.KindSecurity }); it != nil {
		ev, err := parseEventJSON(it, cfg)
		if err != nil {
			return nil, err
		}
		env.RemoveAll(it.Kind)
		if dupErr := assertNoDuplicate(env, it.Kind); dupErr != nil {
			return nil, dupErr
		}
		return &Result{Event: ev, Source: sourceEvent}, nil
	}

	if it := env.Find(func(i *envelope.Item) bool { return i.Kind == envelope.KindTransaction }); it != nil {
		ev, err := parseEventJSON(it, cfg)
		if err != nil {
			return nil, err
		}
		ev.Set("type", "transaction")
		env.RemoveAll(envelope.KindTransaction)
		if dupErr := assertNoDuplicate(env, envelope.KindTransaction); dupErr != nil {
			return nil, dupErr
		}
		return &Result{Event: ev, Source: sourceTransaction}, nil
	}

	if it := env.Find(func(i *envelope.Item) bool { return i.Kind == envelope.KindRawSecurity }); it != nil {
		ev, err := parseEventJSON(it, cfg)
		if err != nil {
			return nil, err
		}
		ev.Set("type", "security")
		if release := sentryHeaderValue(it, "sentry_release"); release != "" {
			ev.SetIfAbsent("release", release)
		}
		if environment := sentryHeaderValue(it, "sentry_environment"); environment != "" {
			ev.SetIfAbsent("environment", environment)
		}
		env.RemoveAll(envelope.KindRawSecurity)
		if dupErr := assertNoDuplicate(env, envelope.KindRawSecurity); dupErr != nil {
			return nil, dupErr
		}
		return &Result{Event: ev, Source: sourceRawSecurity}, nil
	}

	if ev, ok, err := extractFromAttachments(env, cfg); err != nil {
		return nil, err
	} else if ok {
		return &Result{Event: ev, Source: sourceAttachments}, nil
	}

	if ev, ok := extractFromFormData(env); ok {
		return &Result{Event: ev, Source: sourceFormData}, nil
	}

	return &Result{Event: nil}, nil
}

func sentryHeaderValue(it *envelope.Item, key string) string {
	if it == nil || it.Headers.Extra == nil {
		return ""
	}
	return it.Headers.Extra[key]
}

func assertNoDuplicate(env *envelope.Envelope, already envelope.Kind) *errs.E {
	dupe := env.Find(func(i *envelope.Item) bool {
		if i.Kind == already {
			return false
		}
		switch i.Kind {
		case envelope.KindEvent, envelope.KindSecurity, envelope.KindTransaction, envelope.KindRawSecurity, envelope.KindFormData:
			return true
		default:
			return false
		}
	})
	if dupe == nil {
		return nil
	}
	return errs.New(errs.CodeDuplicateItem, errs.WithDiscardReason(string(dupe.Kind)))
}

func parseEventJSON(it *envelope.Item, cfg Config) (*Event, *errs.E) {
	if cfg.MaxEventSize > 0 && it.Len() > cfg.MaxEventSize {
		return nil, errs.New(errs.CodePayloadTooLarge, errs.WithMessage("event candidate exceeds max_event_size"))
	}
	var fields map[string]any
	if err := json.Unmarshal(it.Payload, &fields); err != nil {
		return nil, errs.New(errs.CodeInvalidJSON, errs.WithCause(err))
	}
	return &Event{Fields: fields}, nil
}

// decodeBreadcrumbs msgpack-decodes a Breadcrumbs attachment into an
// ordered slice of raw breadcrumb maps, preserving unknown fields.
func decodeBreadcrumbs(payload []byte) ([]map[string]any, error) {
	var raw []map[string]any
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func breadcrumbTimestamp(bc map[string]any) float64 {
	switch v := bc["timestamp"].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return 0
	}
}

// mergeBreadcrumbs implements the two-sequence merge rule: order by last
// timestamp, concatenate, truncate to max(len(a), len(b)).
func mergeBreadcrumbs(a, b []map[string]any) []map[string]any {
	lastOf := func(seq []map[string]any) float64 {
		if len(seq) == 0 {
			return -1
		}
		return breadcrumbTimestamp(seq[len(seq)-1])
	}
	first, second := a, b
	if lastOf(a) > lastOf(b) {
		first, second = b, a
	}
	merged := append(append([]map[string]any{}, first...), second...)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if len(merged) > maxLen {
		merged = merged[len(merged)-maxLen:]
	}
	return merged
}

func extractFromAttachments(env *envelope.Envelope, cfg Config) (*Event, bool, *errs.E) {
	var eventPayload *envelope.Item
	var breadcrumbItems []*envelope.Item

	for _, it := range env.Items() {
		if it.Kind != envelope.KindAttachment {
			continue
		}
		switch it.Headers.Attachment {
		case envelope.AttachmentEventPayload:
			if eventPayload == nil {
				eventPayload = it
			}
		case envelope.AttachmentBreadcrumbs:
			if len(breadcrumbItems) < 2 {
				breadcrumbItems = append(breadcrumbItems, it)
			}
		}
	}
	if eventPayload == nil {
		return nil, false, nil
	}

	ev, err := parseEventJSON(eventPayload, cfg)
	if err != nil {
		return nil, false, err
	}

	if len(breadcrumbItems) > 0 {
		var sequences [][]map[string]any
		for _, it := range breadcrumbItems {
			decoded, decErr := decodeBreadcrumbs(it.Payload)
			if decErr != nil {
				return nil, false, errs.New(errs.CodeInvalidMsgpack, errs.WithCause(decErr))
			}
			sequences = append(sequences, decoded)
		}
		merged := sequences[0]
		if len(sequences) == 2 {
			merged = mergeBreadcrumbs(sequences[0], sequences[1])
		}
		values := make([]any, len(merged))
		for i, bc := range merged {
			values[i] = bc
		}
		ev.SetBreadcrumbs(values)
	}

	env.Retain(func(it *envelope.Item) bool {
		if it == eventPayload {
			return false
		}
		for _, bc := range breadcrumbItems {
			if it == bc {
				return false
			}
		}
		return true
	})

	return ev, true, nil
}

// extractFromFormData implements the three form-data conventions (§4.8.5).
func extractFromFormData(env *envelope.Envelope) (*Event, bool) {
	it := env.Find(func(i *envelope.Item) bool { return i.Kind == envelope.KindFormData })
	if it == nil {
		return nil, false
	}
	env.RemoveAll(envelope.KindFormData)

	fields, ok := parseMultipartForm(it.Payload)
	if !ok {
		return nil, false
	}

	ev := NewEvent()
	extra := make(map[string]any)

	// convention 1: a single "sentry" JSON field.
	if raw, found := fields["sentry"]; found {
		var decoded map[string]any
		if json.Unmarshal([]byte(raw), &decoded) == nil {
			ev.Fields = decoded
		}
	}

	// convention 2: "sentry__N" chunks concatenated in index order.
	chunks := make(map[int]string)
	for key, value := range fields {
		if !strings.HasPrefix(key, "sentry__") {
			continue
		}
		idx, convErr := strconv.Atoi(strings.TrimPrefix(key, "sentry__"))
		if convErr != nil {
			continue
		}
		chunks[idx] = value
	}
	if len(chunks) > 0 {
		indices := make([]int, 0, len(chunks))
		for idx := range chunks {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		var sb strings.Builder
		for _, idx := range indices {
			sb.WriteString(chunks[idx])
		}
		var decoded map[string]any
		if json.Unmarshal([]byte(sb.String()), &decoded) == nil {
			for k, v := range decoded {
				ev.Fields[k] = v
			}
		}
	}

	// convention 3: "sentry[a][b]" nested keys, assigned into ev.Fields.
	for key, value := range fields {
		if key == "sentry" || strings.HasPrefix(key, "sentry__") {
			continue
		}
		if strings.HasPrefix(key, "sentry[") && strings.HasSuffix(key, "]") {
			path := parseBracketPath(key)
			assignNested(ev.Fields, path, value)
			continue
		}
		extra[key] = value
	}

	if len(extra) > 0 {
		ev.Set("extra", extra)
	}
	if len(ev.Fields) == 0 {
		return nil, false
	}
	return ev, true
}

// parseMultipartForm is a minimal placeholder over already-decoded
// multipart/form-data fields; HTTP extraction of the raw multipart stream is
// out of scope for the core (§1 Out of scope), so form-data items arrive
// here pre-split into a flat field map serialized as JSON.
func parseMultipartForm(payload []byte) (map[string]string, bool) {
	var fields map[string]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func parseBracketPath(key string) []string {
	trimmed := strings.TrimPrefix(key, "sentry")
	var path []string
	for _, segment := range strings.Split(trimmed, "[") {
		segment = strings.TrimSuffix(segment, "]")
		if segment == "" {
			continue
		}
		path = append(path, segment)
	}
	return path
}

func assignNested(root map[string]any, path []string, value string) {
	if len(path) == 0 {
		return
	}
	cursor := root
	for i, key := range path {
		if i == len(path)-1 {
			cursor[key] = value
			return
		}
		next, ok := cursor[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cursor[key] = next
		}
		cursor = next
	}
}
