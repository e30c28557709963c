package pii

import (
	"bytes"
	"encoding/binary"
)

// minidumpSignature is the magic number ("MDMP") at the start of a valid
// minidump file, little-endian.
const minidumpSignature = 0x504d444d

// ScrubMinidump keeps a minidump's fixed 32-byte header intact and replaces
// pattern matches in every byte after it; the stream directory, module list
// and memory regions that follow are all subject to replacement. If the
// buffer lacks the minidump signature or is shorter than the header, it
// falls back to whole-blob binary scrubbing: every
// byte run matching a configured pattern is replaced in place, which is
// conservative and may corrupt stack memory embedded in the dump.
func ScrubMinidump(data []byte, patterns []PatternRule) []byte {
	out := append([]byte(nil), data...)
	if !looksLikeMinidump(out) {
		return scrubWholeBlob(out, patterns)
	}
	scrubbed, ok := scrubMinidumpStreams(out, patterns)
	if !ok {
		return scrubWholeBlob(out, patterns)
	}
	return scrubbed
}

func looksLikeMinidump(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data[:4]) == minidumpSignature
}

// scrubMinidumpStreams scrubs only the bytes following the header and
// directory, a conservative approximation of stream-aware scrubbing: real
// minidump parsing would walk the stream directory and only touch memory
// list streams. The 32-byte header/directory-entry-size skip here is a fixed
// offset, not a full format parse, and returns false if the buffer is
// shorter than that minimum so the caller falls back to whole-blob scrubbing.
func scrubMinidumpStreams(data []byte, patterns []PatternRule) ([]byte, bool) {
	const headerSize = 32
	if len(data) < headerSize {
		return nil, false
	}
	body := data[headerSize:]
	scrubbed := scrubBytePatterns(body, patterns)
	out := append([]byte(nil), data[:headerSize]...)
	out = append(out, scrubbed...)
	return out, true
}

func scrubWholeBlob(data []byte, patterns []PatternRule) []byte {
	return scrubBytePatterns(data, patterns)
}

func scrubBytePatterns(data []byte, patterns []PatternRule) []byte {
	out := data
	for _, r := range patterns {
		if r.Pattern == nil {
			continue
		}
		out = r.Pattern.ReplaceAllFunc(out, func(match []byte) []byte {
			return bytes.Repeat([]byte{'*'}, len(match))
		})
	}
	return out
}
