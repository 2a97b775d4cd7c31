package kie

import (
	"strconv"
	"strings"

	"mediaforge/internal/domain"
	"mediaforge/internal/registry"
)

// MaxReferenceImages caps the reference list for the economy-jobs family.
const MaxReferenceImages = 5

// aspectRatios is the vocabulary this provider accepts. Anything else falls
// back to square rather than erroring or passing through.
var aspectRatios = map[string]string{
	"1:1":  "1:1",
	"16:9": "16:9",
	"9:16": "9:16",
	"4:3":  "4:3",
	"3:4":  "3:4",
	"21:9": "21:9",
}

const (
	defaultImageAspect = "1:1"
	defaultVideoAspect = "16:9"
)

func mapAspect(ratio, fallback string) string {
	if mapped, ok := aspectRatios[strings.TrimSpace(ratio)]; ok {
		return mapped
	}
	return fallback
}

// BuildImageBody shapes an image request for the economy-jobs API. The
// reference-image field is omitted entirely when no references are given:
// its mere presence switches some models into img2img mode.
func BuildImageBody(d *registry.Descriptor, req domain.GenerationRequest) map[string]any {
	body := map[string]any{
		"prompt":    req.Prompt,
		aspectKey(d): mapAspect(req.AspectRatio, defaultImageAspect),
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		body["negative_prompt"] = neg
	}
	if refs := capReferences(req.ReferenceURLs); len(refs) > 0 {
		body["image_urls"] = refs
	}
	return body
}

// BuildVideoBody shapes a video request. Duration is encoded per descriptor:
// some models want a string, and constrained models are silently clamped to
// the nearest allowed value.
func BuildVideoBody(d *registry.Descriptor, req domain.GenerationRequest) map[string]any {
	body := map[string]any{
		"prompt":    req.Prompt,
		aspectKey(d): mapAspect(req.AspectRatio, defaultVideoAspect),
	}
	if req.Duration > 0 {
		body[durationKey(d)] = encodeDuration(d, req.Duration)
	}
	if refs := capReferences(req.ReferenceURLs); len(refs) > 0 {
		if d.ImageToVideo {
			body["image_url"] = refs[0]
		} else {
			body["image_urls"] = refs
		}
	}
	return body
}

// Music slider remaps. The formulas are provider tuning shipped as-is: the
// weirdness slider maps inversely onto balance strength, the style slider
// maps linearly onto style weight.
func balanceStrength(weirdness int) float64 {
	return 0.3 + (float64(100-clampSlider(weirdness))/100)*0.7
}

func styleWeight(styleInfluence int) float64 {
	return 0.2 + (float64(clampSlider(styleInfluence))/100)*0.8
}

func clampSlider(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// BuildMusicBody shapes a music request. The callback URL is the one place in
// the provider surface that supports true push completion; when configured it
// is passed through so the provider can call back instead of being polled.
func BuildMusicBody(d *registry.Descriptor, req domain.GenerationRequest, callbackURL string) map[string]any {
	body := map[string]any{
		"prompt":           req.Prompt,
		"instrumental":     req.Instrumental,
		"style_weight":     styleWeight(req.StyleInfluence),
		"balance_strength": balanceStrength(req.Weirdness),
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		body["title"] = title
	}
	if !req.Instrumental {
		if lyrics := strings.TrimSpace(req.Lyrics); lyrics != "" {
			body["lyrics"] = lyrics
		}
		if gender := strings.TrimSpace(req.VocalGender); gender != "" {
			body["vocal_gender"] = gender
		}
	}
	if callbackURL != "" {
		body["callBackUrl"] = callbackURL
	}
	return body
}

func aspectKey(d *registry.Descriptor) string {
	if d.AspectKey != "" {
		return d.AspectKey
	}
	return "aspect_ratio"
}

func durationKey(d *registry.Descriptor) string {
	if d.DurationKey != "" {
		return d.DurationKey
	}
	return "duration"
}

func encodeDuration(d *registry.Descriptor, duration int) any {
	duration = clampDuration(d.AllowedDurations, duration)
	if d.DurationAsString {
		return strconv.Itoa(duration)
	}
	return duration
}

// clampDuration snaps the requested duration to the nearest allowed value.
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
