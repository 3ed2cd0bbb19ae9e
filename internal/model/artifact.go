package model

import (
	"encoding/json"
	"time"
)

// Scope identifies one independent version sequence. Subjects are not
// globally owned, so two owners working on the same subject get separate
// sequences and separate defaults.
type Scope struct {
	OwnerID   string       `json:"owner_id"`
	Kind      ArtifactKind `json:"kind"`
	SubjectID string       `json:"subject_id"`
	Language  string       `json:"language"`
}

// Key is a stable string form of the scope.
func (s Scope) Key() string {
	return s.OwnerID + "|" + string(s.Kind) + "|" + s.SubjectID + "|" + s.Language
}

// Artifact is an immutable, version-tagged generated output.
type Artifact struct {
	ID               string          `json:"artifact_id"`
	OwnerID          string          `json:"owner_id"`
	Kind             ArtifactKind    `json:"kind"`
	SubjectID        string          `json:"subject_id"`
	Language         string          `json:"language"`
	Version          int             `json:"version"`
	IsDefault        bool            `json:"is_default"`
	Content          json.RawMessage `json:"content,omitempty"`
	ObjectKey        string          `json:"object_key,omitempty"`
	URL              string          `json:"url,omitempty"`
	SourceJobID      string          `json:"source_job_id,omitempty"`
	SourceArtifactID string          `json:"source_artifact_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Scope returns the version sequence the artifact belongs to.
func (a *Artifact) Scope() Scope {
	return Scope{OwnerID: a.OwnerID, Kind: a.Kind, SubjectID: a.SubjectID, Language: a.Language}
}

// NewArtifact is the input to the artifact store's Create. The owner comes
// from the embedded Scope.
type NewArtifact struct {
	Scope
	Content          json.RawMessage
	ObjectKey        string
	URL              string
	SourceJobID      string
	SourceArtifactID string
}

// ArtifactMeta is the list view, without content.
type ArtifactMeta struct {
	ID        string       `json:"artifact_id"`
	Kind      ArtifactKind `json:"kind"`
	Language  string       `json:"language"`
	Version   int          `json:"version"`
	IsDefault bool         `json:"is_default"`
	URL       string       `json:"url,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Meta strips content from an artifact.
func (a *Artifact) Meta() ArtifactMeta {
	return ArtifactMeta{
		ID:        a.ID,
		Kind:      a.Kind,
		Language:  a.Language,
		Version:   a.Version,
		IsDefault: a.IsDefault,
		URL:       a.URL,
		CreatedAt: a.CreatedAt,
	}
}

// SetDefaultRequest is the body of PUT .../preferences/:language/default
type SetDefaultRequest struct {
	ArtifactID string `json:"artifact_id" validate:"required"`
}

// SetDefaultResponse confirms a default version change.
type SetDefaultResponse struct {
	Success  bool   `json:"success"`
	Language string `json:"language"`
	Version  int    `json:"version"`
}

// ArtifactListResponse wraps the version listing.
type ArtifactListResponse struct {
	SubjectID string         `json:"subject_id"`
	Kind      ArtifactKind   `json:"kind"`
	Versions  []ArtifactMeta `json:"versions"`
}

// TranslationContent is the stored content of a translation artifact.
type TranslationContent struct {
	SourceLanguage string `json:"source_language,omitempty"`
	Text           string `json:"text"`
	Provider       string `json:"provider,omitempty"`
}

// SubtitleContent is the stored content of a subtitles artifact.
type SubtitleContent struct {
	Slides []SlideSubtitle `json:"slides"`
}

// SlideSubtitle is the narration script for one slide.
type SlideSubtitle struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// AudioContent is the stored content of an audio artifact.
type AudioContent struct {
	SubtitleVersion int          `json:"subtitle_version"`
	Voice           string       `json:"voice,omitempty"`
	Slides          []SlideAudio `json:"slides"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// SlideAudio is the synthesized audio for one slide.
type SlideAudio struct {
	Index           int     `json:"index"`
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// VideoContent is the stored content of a video artifact.
type VideoContent struct {
	AudioVersion    int     `json:"audio_version"`
	Resolution      string  `json:"resolution"`
	DurationSeconds float64 `json:"duration_seconds"`
}
