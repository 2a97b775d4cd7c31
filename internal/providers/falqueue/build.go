package falqueue

import (
	"strconv"
	"strings"

	"mediaforge/internal/domain"
	"mediaforge/internal/registry"
)

// MaxReferenceImages caps the reference list for queue models that accept one.
const MaxReferenceImages = 5

// imageSizes maps the app's aspect ratios onto this provider's named sizes.
var imageSizes = map[string]string{
	"1:1":  "square_hd",
	"4:3":  "landscape_4_3",
	"3:4":  "portrait_4_3",
	"16:9": "landscape_16_9",
	"9:16": "portrait_16_9",
}

const defaultImageSize = "square_hd"

// videoAspects is the accepted ratio vocabulary for video queue models.
var videoAspects = map[string]bool{"16:9": true, "9:16": true, "1:1": true}

const defaultVideoAspect = "16:9"

// BuildBody shapes a queue submit body for the descriptor's model. Reference
// fields are attached only when at least one reference is present; some
// queue models switch into image-to-image mode on field presence alone.
func BuildBody(d *registry.Descriptor, req domain.GenerationRequest) map[string]any {
	body := map[string]any{"prompt": req.Prompt}

	switch d.AspectKey {
	case "image_size":
		size, ok := imageSizes[strings.TrimSpace(req.AspectRatio)]
		if !ok {
			size = defaultImageSize
		}
		body["image_size"] = size
	default:
		aspect := strings.TrimSpace(req.AspectRatio)
		if !videoAspects[aspect] {
			aspect = defaultVideoAspect
		}
		body["aspect_ratio"] = aspect
	}

	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		body["negative_prompt"] = neg
	}

	if req.Duration > 0 && d.MediaType == domain.MediaVideo {
		key := d.DurationKey
		if key == "" {
			key = "duration"
		}
		duration := clampDuration(d.AllowedDurations, req.Duration)
		if d.DurationAsString {
			body[key] = strconv.Itoa(duration)
		} else {
			body[key] = duration
		}
	}

	refs := capReferences(req.ReferenceURLs)
	if len(refs) > 0 {
		if d.ImageToVideo {
			body["image_url"] = refs[0]
		} else {
			body["image_urls"] = refs
		}
	}
	return body
}

func clampDuration(allowed []int, duration int) int {
	if len(allowed) == 0 {
		return duration
	}
	nearest := allowed[0]
	for _, v := range allowed[1:] {
		if abs(v-duration) < abs(nearest-duration) {
			nearest = v
		}
	}
	return nearest
}

func capReferences(urls []string) []string {
	out := make([]string, 0, MaxReferenceImages)
	for _, u := range urls {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		out = append(out, u)
		if len(out) == MaxReferenceImages {
			break
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
