package items

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/pkg/envelope"
)

// ProfilePlatform is the closed set of platforms the profile processor
// recognizes; any other value is Invalid(ProcessProfile).
type ProfilePlatform string

const (
	ProfilePlatformAndroid    ProfilePlatform = "android"
	ProfilePlatformCocoa      ProfilePlatform = "cocoa"
	ProfilePlatformTypescript ProfilePlatform = "typescript"
	ProfilePlatformRust       ProfilePlatform = "rust"
)

type profileHeader struct {
	Platform ProfilePlatform `json:"platform"`
}

// ProcessProfile implements §4.6. hasProfilingFeature gates retention
// regardless of mode; processingMode gates whether the platform-specific
// parse runs at all (forwarding relays pass profiles through untouched).
func ProcessProfile(it *envelope.Item, hasProfilingFeature, processingMode bool) (*envelope.Item, *errs.E) {
	if !hasProfilingFeature {
		return nil, nil
	}
	if !processingMode {
		return it, nil
	}

	var h profileHeader
	if err := json.Unmarshal(it.Payload, &h); err != nil {
		return nil, errs.New(errs.CodeInvalidJSON, errs.WithMessage("profile payload"), errs.WithCause(err))
	}
	switch h.Platform {
	case ProfilePlatformAndroid, ProfilePlatformCocoa, ProfilePlatformTypescript, ProfilePlatformRust:
		return it, nil
	default:
		return nil, errs.New(errs.CodeProcessProfile, errs.WithMessage("unrecognized profile platform"))
	}
}

// ProcessReplayRecording implements §4.7: retained only if the project has
// the replays feature, otherwise dropped silently (no outcome).
func ProcessReplayRecording(it *envelope.Item, hasReplaysFeature bool) *envelope.Item {
	if !hasReplaysFeature {
		return nil
	}
	return it
}
