package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wordai/api/internal/model"
)

// Definition describes one job type the queue accepts.
type Definition struct {
	Type             string
	Priority         model.Priority
	ArtifactKind     model.ArtifactKind
	EstimatedSeconds int
	// NewPayload returns a pointer to a zero payload struct for decoding.
	NewPayload func() any
}

// Registry maps job types to their payload schema and queue class.
type Registry struct {
	defs     map[string]Definition
	validate *validator.Validate
}

// NewValidator returns a validator that reports fields by their json name.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func NewRegistry(v *validator.Validate) *Registry {
	if v == nil {
		v = NewValidator()
	}
	return &Registry{
		defs:     make(map[string]Definition),
		validate: v,
	}
}

// DefaultRegistry registers the built-in job types.
func DefaultRegistry(v *validator.Validate) *Registry {
	r := NewRegistry(v)
	r.Register(Definition{
		Type:             model.JobTypeTranslateChapter,
		Priority:         model.PriorityDefault,
		ArtifactKind:     model.ArtifactKindTranslation,
		EstimatedSeconds: 60,
		NewPayload:       func() any { return &model.TranslateChapterPayload{} },
	})
	r.Register(Definition{
		Type:             model.JobTypeGenerateSubtitles,
		Priority:         model.PriorityDefault,
		ArtifactKind:     model.ArtifactKindSubtitles,
		EstimatedSeconds: 90,
		NewPayload:       func() any { return &model.GenerateSubtitlesPayload{} },
	})
	r.Register(Definition{
		Type:             model.JobTypeGenerateNarration,
		Priority:         model.PriorityDefault,
		ArtifactKind:     model.ArtifactKindAudio,
		EstimatedSeconds: 120,
		NewPayload:       func() any { return &model.GenerateNarrationPayload{} },
	})
	r.Register(Definition{
		Type:             model.JobTypeExportVideo,
		Priority:         model.PriorityLow,
		ArtifactKind:     model.ArtifactKindVideo,
		EstimatedSeconds: 240,
		NewPayload:       func() any { return &model.ExportVideoPayload{} },
	})
	return r
}

// Register adds or replaces a job type definition.
func (r *Registry) Register(def Definition) {
	if def.Priority == "" {
		def.Priority = model.PriorityDefault
	}
	r.defs[def.Type] = def
}

func (r *Registry) Lookup(jobType string) (Definition, bool) {
	def, ok := r.defs[jobType]
	return def, ok
}

// Types returns registered job types in lexical order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Decode strictly decodes and validates raw into the payload type of jobType.
// Failures wrap model.ErrValidation.
func (r *Registry) Decode(jobType string, raw json.RawMessage) (any, error) {
	def, ok := r.defs[jobType]
	if !ok {
		return nil, &model.ValidationError{
			Message: fmt.Sprintf("unknown job type %q", jobType),
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	payload := def.NewPayload()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, &model.ValidationError{Message: "invalid payload: " + err.Error()}
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, ToValidationError(err)
	}
	return payload, nil
}

// ToValidationError converts validator output into a model.ValidationError.
func ToValidationError(err error) *model.ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, e := range verrs {
			fields[e.Field()] = e.Tag()
		}
		return &model.ValidationError{Message: "validation failed", Fields: fields}
	}
	return &model.ValidationError{Message: err.Error()}
}
