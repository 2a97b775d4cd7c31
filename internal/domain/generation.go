package domain

import "time"

// MediaType enumerates supported generation categories.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaMusic MediaType = "music"
)

// Valid reports whether t is one of the supported media types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaImage, MediaVideo, MediaMusic:
		return true
	}
	return false
}

// GenerationStatus enumerates generation lifecycle states. Terminal states are
// never mutated except pending, which the completion poller resolves.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// Generation is the durable record of one dispatch outcome. It doubles as the
// at-most-once proof of a credit charge per provider task id.
type Generation struct {
	ID               string
	UserID           string
	Prompt           string
	Model            string
	MediaType        MediaType
	Status           GenerationStatus
	TaskID           string
	OutputURL        string
	CreditsUsed      int
	ProviderEndpoint string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// GenerationRequest is the normalized inbound request. It lives only for the
// duration of one dispatch call.
type GenerationRequest struct {
	UserID         string
	MediaType      MediaType
	Model          string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Quality        string
	Duration       int
	ReferenceURLs  []string
	Lyrics         string
	Instrumental   bool
	VocalGender    string
	Weirdness      int
	StyleInfluence int
	Title          string
	Stream         bool
	Background     bool
}
