// Package registry holds the static model catalog. Every model id reachable
// from the client app must have exactly one descriptor here; dispatch fails
// closed on anything else.
package registry

import (
	"fmt"
	"math"
	"time"

	"mediaforge/internal/domain"
)

// Provider enumerates the provider families a model can be routed to.
type Provider string

const (
	ProviderKie      Provider = "kie"
	ProviderFalQueue Provider = "fal_queue"
	ProviderGateway  Provider = "gateway"
)

// Descriptor is the immutable registry entry for one logical model.
type Descriptor struct {
	ID         string
	MediaType  domain.MediaType
	Provider   Provider
	CreditCost int

	// Endpoint is the provider-relative submit path. For fal queue models it
	// is the queue path whose first two segments also derive the status and
	// result endpoints.
	Endpoint string

	// StatusEndpoint overrides the kie status-endpoint table; empty means the
	// generic record-info path.
	StatusEndpoint string

	// Request-shape quirks.
	AspectKey        string
	DurationKey      string
	DurationAsString bool
	AllowedDurations []int
	ImageToVideo     bool

	// MaxPollWait caps how long a synchronous caller waits before the
	// generation is parked as pending for the completion poller.
	MaxPollWait time.Duration
}

var catalog = map[string]Descriptor{
	// Images.
	"kie-flux-dev": {
		ID: "kie-flux-dev", MediaType: domain.MediaImage, Provider: ProviderKie,
		CreditCost: 2, Endpoint: "/api/v1/flux/generate",
		StatusEndpoint: "/api/v1/flux/record-info",
		AspectKey:      "aspect_ratio", MaxPollWait: 20 * time.Second,
	},
	"kie-flux-pro": {
		ID: "kie-flux-pro", MediaType: domain.MediaImage, Provider: ProviderKie,
		CreditCost: 5, Endpoint: "/api/v1/flux/generate",
		StatusEndpoint: "/api/v1/flux/record-info",
		AspectKey:      "aspect_ratio", MaxPollWait: 40 * time.Second,
	},
	"kie-4o-image": {
		ID: "kie-4o-image", MediaType: domain.MediaImage, Provider: ProviderKie,
		CreditCost: 6, Endpoint: "/api/v1/gpt4o-image/generate",
		StatusEndpoint: "/api/v1/gpt4o-image/record-info",
		AspectKey:      "size", MaxPollWait: 60 * time.Second,
	},
	"fal-qwen-image": {
		ID: "fal-qwen-image", MediaType: domain.MediaImage, Provider: ProviderFalQueue,
		CreditCost: 3, Endpoint: "fal-ai/qwen-image",
		AspectKey: "image_size", MaxPollWait: 60 * time.Second,
	},
	"gateway-gpt-image": {
		ID: "gateway-gpt-image", MediaType: domain.MediaImage, Provider: ProviderGateway,
		CreditCost: 8, Endpoint: "/chat/completions", MaxPollWait: 90 * time.Second,
	},

	// Video.
	"kie-veo3-fast": {
		ID: "kie-veo3-fast", MediaType: domain.MediaVideo, Provider: ProviderKie,
		CreditCost: 20, Endpoint: "/api/v1/veo/generate",
		StatusEndpoint: "/api/v1/veo/record-info",
		AspectKey:      "aspect_ratio", DurationAsString: true,
		MaxPollWait: 10 * time.Minute,
	},
	"kie-runway-turbo": {
		ID: "kie-runway-turbo", MediaType: domain.MediaVideo, Provider: ProviderKie,
		CreditCost: 12, Endpoint: "/api/v1/runway/generate",
		AspectKey: "aspect_ratio", MaxPollWait: 5 * time.Minute,
	},
	"fal-kling-pro": {
		ID: "fal-kling-pro", MediaType: domain.MediaVideo, Provider: ProviderFalQueue,
		CreditCost: 25, Endpoint: "fal-ai/kling-video/v1.6/pro/image-to-video",
		AspectKey: "aspect_ratio", DurationAsString: true,
		AllowedDurations: []int{5, 10}, ImageToVideo: true,
		MaxPollWait: 10 * time.Minute,
	},
	"fal-wan-t2v": {
		ID: "fal-wan-t2v", MediaType: domain.MediaVideo, Provider: ProviderFalQueue,
		CreditCost: 15, Endpoint: "fal-ai/wan-t2v/v2.2/turbo/text-to-video",
		AspectKey: "aspect_ratio", DurationKey: "n_frames",
		AllowedDurations: []int{81, 121},
		MaxPollWait:      8 * time.Minute,
	},

	// Music.
	"kie-suno-v4": {
		ID: "kie-suno-v4", MediaType: domain.MediaMusic, Provider: ProviderKie,
		CreditCost: 10, Endpoint: "/api/v1/generate",
		StatusEndpoint: "/api/v1/generate/record-info",
		MaxPollWait:    15 * time.Minute,
	},
	"kie-suno-v4-5": {
		ID: "kie-suno-v4-5", MediaType: domain.MediaMusic, Provider: ProviderKie,
		CreditCost: 14, Endpoint: "/api/v1/generate",
		StatusEndpoint: "/api/v1/generate/record-info",
		MaxPollWait:    15 * time.Minute,
	},
}

// Resolve looks up the descriptor for a model id. Unknown ids are a
// user-facing error, never a process error.
func Resolve(modelID string) (*Descriptor, error) {
	d, ok := catalog[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, modelID)
	}
	return &d, nil
}

// ModelIDs returns every catalog id, for diagnostics.
func ModelIDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	return ids
}

const (
	defaultImageCost = 5
	defaultVideoCost = 15
	defaultMusicCost = 10
)

// Cost resolves the credit price for one generation. Registry-listed costs
// are already quality-inclusive (one SKU per model), so the quality
// multiplier applies only on the fallback path. That asymmetry is pricing
// intent, not an oversight.
func Cost(modelID string, mediaType domain.MediaType, quality string) int {
	if d, ok := catalog[modelID]; ok {
		return d.CreditCost
	}

	base := defaultImageCost
	switch mediaType {
	case domain.MediaVideo:
		base = defaultVideoCost
	case domain.MediaMusic:
		base = defaultMusicCost
	}

	multiplier := 1.0
	switch quality {
	case "480p":
		multiplier = 0.8
	case "1080p":
		multiplier = 1.5
	}

	return int(math.Round(float64(base) * multiplier))
}
