package kie

import (
	"fmt"
	"math"
	"testing"

	"mediaforge/internal/domain"
	"mediaforge/internal/registry"
)

func imageDescriptor() *registry.Descriptor {
	return &registry.Descriptor{ID: "kie-flux-dev", MediaType: domain.MediaImage, AspectKey: "aspect_ratio"}
}

func TestBuildImageBodyCapsReferenceImages(t *testing.T) {
	refs := make([]string, 7)
	for i := range refs {
		refs[i] = fmt.Sprintf("https://img.example/%d.png", i)
	}
	body := BuildImageBody(imageDescriptor(), domain.GenerationRequest{Prompt: "a cat", ReferenceURLs: refs})

	urls, ok := body["image_urls"].([]string)
	if !ok {
		t.Fatalf("image_urls missing or wrong type: %#v", body["image_urls"])
	}
	if len(urls) != MaxReferenceImages {
		t.Fatalf("len(image_urls) = %d, want %d", len(urls), MaxReferenceImages)
	}
	if urls[0] != "https://img.example/0.png" {
		t.Fatalf("primary reference changed: %q", urls[0])
	}
	for i, u := range urls {
		if u != refs[i] {
			t.Fatalf("reference order broken at %d: %q", i, u)
		}
	}
}

func TestBuildImageBodyOmitsEmptyReferenceField(t *testing.T) {
	body := BuildImageBody(imageDescriptor(), domain.GenerationRequest{Prompt: "a cat"})
	if _, present := body["image_urls"]; present {
		t.Fatal("image_urls must be absent when no references are given")
	}
}

func TestBuildImageBodyAspectFallback(t *testing.T) {
	body := BuildImageBody(imageDescriptor(), domain.GenerationRequest{Prompt: "a cat", AspectRatio: "5:7"})
	if body["aspect_ratio"] != "1:1" {
		t.Fatalf("aspect_ratio = %v, want fallback 1:1", body["aspect_ratio"])
	}

	body = BuildImageBody(imageDescriptor(), domain.GenerationRequest{Prompt: "a cat", AspectRatio: "9:16"})
	if body["aspect_ratio"] != "9:16" {
		t.Fatalf("aspect_ratio = %v, want 9:16", body["aspect_ratio"])
	}
}

func TestBuildVideoBodyDurationEncoding(t *testing.T) {
	d := &registry.Descriptor{
		ID: "kie-veo3-fast", MediaType: domain.MediaVideo,
		AspectKey: "aspect_ratio", DurationAsString: true,
	}
	body := BuildVideoBody(d, domain.GenerationRequest{Prompt: "waves", Duration: 8})
	if body["duration"] != "8" {
		t.Fatalf("duration = %#v, want string \"8\"", body["duration"])
	}

	d = &registry.Descriptor{
		ID: "fal-wan-t2v", MediaType: domain.MediaVideo,
		AspectKey: "aspect_ratio", DurationKey: "n_frames", AllowedDurations: []int{81, 121},
	}
	body = BuildVideoBody(d, domain.GenerationRequest{Prompt: "waves", Duration: 100})
	if body["n_frames"] != 81 {
		t.Fatalf("n_frames = %#v, want clamped 81", body["n_frames"])
	}
	if _, present := body["duration"]; present {
		t.Fatal("duration key should be renamed, not duplicated")
	}
}

func TestBuildVideoBodyImageToVideoUsesSingleReference(t *testing.T) {
	d := &registry.Descriptor{ID: "kie-runway-turbo", MediaType: domain.MediaVideo, AspectKey: "aspect_ratio", ImageToVideo: true}
	body := BuildVideoBody(d, domain.GenerationRequest{
		Prompt:        "pan across",
		ReferenceURLs: []string{"https://img.example/first.png", "https://img.example/second.png"},
	})
	if body["image_url"] != "https://img.example/first.png" {
		t.Fatalf("image_url = %v", body["image_url"])
	}
	if _, present := body["image_urls"]; present {
		t.Fatal("i2v models take a single primary image")
	}
}

func TestMusicSliderRemaps(t *testing.T) {
	// weirdness 0 -> full balance strength, 100 -> floor.
	if got := balanceStrength(0); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("balanceStrength(0) = %v, want 1.0", got)
	}
	if got := balanceStrength(100); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("balanceStrength(100) = %v, want 0.3", got)
	}
	if got := balanceStrength(50); math.Abs(got-0.65) > 1e-9 {
		t.Fatalf("balanceStrength(50) = %v, want 0.65", got)
	}
	if got := styleWeight(0); math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("styleWeight(0) = %v, want 0.2", got)
	}
	if got := styleWeight(100); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("styleWeight(100) = %v, want 1.0", got)
	}
}

func TestBuildMusicBody(t *testing.T) {
	d := &registry.Descriptor{ID: "kie-suno-v4", MediaType: domain.MediaMusic}
	body := BuildMusicBody(d, domain.GenerationRequest{
		Prompt:      "lofi rain",
		Title:       "Rainy Day",
		Lyrics:      "verse one",
		VocalGender: "female",
		Weirdness:   50,
	}, "https://api.example/v1/webhooks/music")

	if body["lyrics"] != "verse one" {
		t.Fatalf("lyrics = %v", body["lyrics"])
	}
	if body["vocal_gender"] != "female" {
		t.Fatalf("vocal_gender = %v", body["vocal_gender"])
	}
	if body["callBackUrl"] != "https://api.example/v1/webhooks/music" {
		t.Fatalf("callBackUrl = %v", body["callBackUrl"])
	}

	instrumental := BuildMusicBody(d, domain.GenerationRequest{
		Prompt:       "lofi rain",
		Lyrics:       "should be dropped",
		Instrumental: true,
	}, "")
	if _, present := instrumental["lyrics"]; present {
		t.Fatal("instrumental tracks must not carry lyrics")
	}
	if _, present := instrumental["callBackUrl"]; present {
		t.Fatal("callBackUrl must be omitted when not configured")
	}
}
