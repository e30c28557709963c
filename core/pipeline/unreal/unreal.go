// Package unreal implements the two processing-mode-only Unreal Engine 4
// crash report stages (§4.14 steps 6a/6c): expanding a single UnrealReport
// item into its constituent parts, and folding the embedded crash context
// back into the extracted event once one exists.
//
// The upstream relay delegates the actual crash-dump container format to a
// native Unreal4 parsing library; no Go equivalent exists in this module's
// dependency surface, so Expand here understands only a simple
// length-prefixed framing (a 4-byte big-endian length followed by that many
// payload bytes, repeated to the end of the item): frame 0 is treated as the
// crash context JSON object, every subsequent frame becomes a generic
// attachment. A malformed frame stream is reported the same way a malformed
// native crash dump would be: as CodeInvalidUnrealReport.
package unreal

import (
	"encoding/binary"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/coachpo/relaycore/core/pipeline/extract"
	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/pkg/envelope"
)

const frameHeaderSize = 4

// Expand removes the envelope's UnrealReport item, if any, and replaces it
// with the items decoded from its frames. A no-op when no UnrealReport item
// is present.
func Expand(env *envelope.Envelope) *errs.E {
	removed := env.RemoveAll(envelope.KindUnrealReport)
	if len(removed) == 0 {
		return nil
	}
	for _, it := range removed {
		items, err := decodeFrames(it.Payload)
		if err != nil {
			return err
		}
		for _, decoded := range items {
			env.AddItem(decoded)
		}
	}
	return nil
}

func decodeFrames(payload []byte) ([]*envelope.Item, *errs.E) {
	var items []*envelope.Item
	offset := 0
	index := 0
	for offset < len(payload) {
		if len(payload)-offset < frameHeaderSize {
			return nil, errs.New(errs.CodeInvalidUnrealReport, errs.WithMessage("truncated frame header"))
		}
		length := binary.BigEndian.Uint32(payload[offset : offset+frameHeaderSize])
		offset += frameHeaderSize
		if uint64(offset)+uint64(length) > uint64(len(payload)) {
			return nil, errs.New(errs.CodeInvalidUnrealReport, errs.WithMessage("frame length exceeds payload"))
		}
		frame := payload[offset : offset+int(length)]
		offset += int(length)

		if index == 0 {
			it := envelope.NewItem(envelope.KindAttachment, frame)
			it.Headers.Attachment = envelope.AttachmentEventPayload
			it.Headers.Filename = "__unreal_context.json"
			items = append(items, it)
		} else {
			it := envelope.NewItem(envelope.KindAttachment, frame)
			it.Headers.Attachment = envelope.AttachmentGeneric
			it.Headers.Filename = "unreal_attachment_" + strconv.Itoa(index)
			items = append(items, it)
		}
		index++
	}
	return items, nil
}

// Process extracts crash information from the unreal context attachment
// (the first frame Expand produced) into ev, creating ev if it did not
// already exist. A no-op if the envelope carries no unreal context
// attachment.
func Process(env *envelope.Envelope, ev *extract.Event) (*extract.Event, *errs.E) {
	contextItem := env.Find(func(it *envelope.Item) bool {
		return it.Kind == envelope.KindAttachment && it.Headers.Filename == "__unreal_context.json"
	})
	if contextItem == nil {
		return ev, nil
	}

	ctx, parseErr := parseUnrealContext(contextItem.Payload)
	if parseErr != nil {
		return ev, errs.New(errs.CodeInvalidUnrealReport, errs.WithCause(parseErr))
	}

	if ev == nil {
		ev = extract.NewEvent()
	}
	ev.SetIfAbsent("platform", "native")
	ev.SetIfAbsent("level", "fatal")
	if processName, ok := ctx["process_name"]; ok {
		ev.SetIfAbsent("transaction", processName)
	}
	for k, v := range ctx {
		ev.SetIfAbsent("unreal."+k, v)
	}
	return ev, nil
}

func parseUnrealContext(payload []byte) (map[string]any, error) {
	var out map[string]any
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePlaceholders removes the `__unreal_context.json` attachment from env
// when an event-payload attachment is present. It adds no placeholder items
// for the event payload or breadcrumb attachments.
func CreatePlaceholders(env *envelope.Envelope) {
	hasEventPayload := env.Find(func(it *envelope.Item) bool {
		return it.Kind == envelope.KindAttachment && it.Headers.Attachment == envelope.AttachmentEventPayload
	}) != nil
	if !hasEventPayload {
		return
	}
	env.Retain(func(it *envelope.Item) bool {
		if it.Kind == envelope.KindAttachment && it.Headers.Filename == "__unreal_context.json" {
			return false
		}
		return true
	})
}
