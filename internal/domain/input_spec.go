package domain

import (
	"encoding/json"
	"fmt"
)

// InputSpec is the tagged-union payload stored as opaque JSON on Execution
// and Job. It is validated on ingress (ParseInputSpec) and dispatched on
// egress by the Worker via Type() and Tasks().
type InputSpec interface {
	Type() WorkflowType
	// Tasks expands the spec into the ordered list of per-batch prompt
	// tasks per the §4.6 workflow-type rules. len(Tasks()) == M.
	Tasks() []PromptTask
	// Validate reports a *apperr.Error-shaped problem via plain error;
	// internal/api wraps it with the right Kind/Code.
	Validate() error
}

// PromptTask is one unit of work a Worker runner executes for a batch_index.
type PromptTask struct {
	BatchIndex      int
	PromptText      string
	ModelVariant    ModelVariant
	AspectRatio     string
	Size            string
	ReferenceImages []string
	// ResizeFormat/MasterImage are populated only for smart_resizer tasks.
	ResizeFormat string
	MasterImage  string
}

// wireInputSpec is the on-the-wire shape before dispatch: every field any
// workflow type might use, discriminated by WorkflowType.
type wireInputSpec struct {
	WorkflowType WorkflowType `json:"workflow_type"`

	// nano_banana / standard
	Prompts []string `json:"prompts,omitempty"`

	// shared
	ModelVariant    ModelVariant `json:"model_variant,omitempty"`
	AspectRatio     string       `json:"aspect_ratio,omitempty"`
	Size            string       `json:"size,omitempty"`
	ReferenceImages []string     `json:"reference_images,omitempty"`

	// smart_resizer
	Formats      []string `json:"formats,omitempty"`
	MasterImages []string `json:"master_images,omitempty"`

	// room_redesigner
	RoomImages  []string `json:"room_images,omitempty"`
	StylePrompt string   `json:"style_prompt,omitempty"`
}

// ParseInputSpec decodes raw JSON into the typed variant named by its
// workflow_type field, per §9's re-architecture note on tagged variants.
func ParseInputSpec(raw []byte) (InputSpec, error) {
	var w wireInputSpec
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("input_spec: invalid json: %w", err)
	}
	if w.ModelVariant == "" {
		w.ModelVariant = ModelFlash
	}
	switch w.WorkflowType {
	case WorkflowNanoBanana:
		return &NanoBananaSpec{Prompts: w.Prompts, ModelVariant: w.ModelVariant, AspectRatio: w.AspectRatio, Size: w.Size, ReferenceImages: w.ReferenceImages}, nil
	case WorkflowStandard:
		return &StandardSpec{Prompt: firstOrEmpty(w.Prompts), ModelVariant: w.ModelVariant, AspectRatio: w.AspectRatio, Size: w.Size, ReferenceImages: w.ReferenceImages}, nil
	case WorkflowSmartResizer:
		return &SmartResizerSpec{Formats: w.Formats, MasterImages: w.MasterImages, ModelVariant: w.ModelVariant}, nil
	case WorkflowRoomRedesigner:
		return &RoomRedesignerSpec{RoomImages: w.RoomImages, StylePrompt: w.StylePrompt, ModelVariant: w.ModelVariant, AspectRatio: w.AspectRatio, Size: w.Size}, nil
	default:
		return nil, fmt.Errorf("input_spec: unknown workflow_type %q", w.WorkflowType)
	}
}

// MarshalInputSpec serializes spec to the same wire shape ParseInputSpec
// reads back, injecting the workflow_type discriminator that the typed
// variants themselves don't carry as a JSON field.
func MarshalInputSpec(spec InputSpec) ([]byte, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(spec.Type())
	if err != nil {
		return nil, err
	}
	fields["workflow_type"] = typeJSON
	return json.Marshal(fields)
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// NanoBananaSpec: M = length(prompts); reference images optional.
type NanoBananaSpec struct {
	Prompts         []string     `json:"prompts"`
	ModelVariant    ModelVariant `json:"model_variant"`
	AspectRatio     string       `json:"aspect_ratio"`
	Size            string       `json:"size"`
	ReferenceImages []string     `json:"reference_images,omitempty"`
}

func (s *NanoBananaSpec) Type() WorkflowType { return WorkflowNanoBanana }

func (s *NanoBananaSpec) Validate() error {
	if s.Prompts == nil {
		return fmt.Errorf("MISSING_PROMPTS")
	}
	if len(nonEmpty(s.Prompts)) == 0 {
		return fmt.Errorf("EMPTY_PROMPTS")
	}
	return nil
}

func (s *NanoBananaSpec) Tasks() []PromptTask {
	prompts := nonEmpty(s.Prompts)
	tasks := make([]PromptTask, 0, len(prompts))
	for i, p := range prompts {
		tasks = append(tasks, PromptTask{
			BatchIndex:      i,
			PromptText:      p,
			ModelVariant:    s.ModelVariant,
			AspectRatio:     s.AspectRatio,
			Size:            s.Size,
			ReferenceImages: s.ReferenceImages,
		})
	}
	return tasks
}

// StandardSpec: M = 1.
type StandardSpec struct {
	Prompt          string       `json:"prompt"`
	ModelVariant    ModelVariant `json:"model_variant"`
	AspectRatio     string       `json:"aspect_ratio"`
	Size            string       `json:"size"`
	ReferenceImages []string     `json:"reference_images,omitempty"`
}

func (s *StandardSpec) Type() WorkflowType { return WorkflowStandard }

func (s *StandardSpec) Validate() error {
	if s.Prompt == "" {
		return fmt.Errorf("MISSING_PROMPTS")
	}
	return nil
}

func (s *StandardSpec) Tasks() []PromptTask {
	return []PromptTask{{
		BatchIndex:      0,
		PromptText:      s.Prompt,
		ModelVariant:    s.ModelVariant,
		AspectRatio:     s.AspectRatio,
		Size:            s.Size,
		ReferenceImages: s.ReferenceImages,
	}}
}

// SmartResizerSpec: M = |formats| x |master_images|; each task resizes with
// a classifier choosing CROP/PADDING/AI_REGENERATE (§4.6).
type SmartResizerSpec struct {
	Formats      []string     `json:"formats"`
	MasterImages []string     `json:"master_images"`
	ModelVariant ModelVariant `json:"model_variant"`
}

func (s *SmartResizerSpec) Type() WorkflowType { return WorkflowSmartResizer }

func (s *SmartResizerSpec) Validate() error {
	if len(s.Formats) == 0 || len(s.MasterImages) == 0 {
		return fmt.Errorf("EMPTY_PROMPTS")
	}
	return nil
}

func (s *SmartResizerSpec) Tasks() []PromptTask {
	tasks := make([]PromptTask, 0, len(s.Formats)*len(s.MasterImages))
	idx := 0
	for _, img := range s.MasterImages {
		for _, f := range s.Formats {
			tasks = append(tasks, PromptTask{
				BatchIndex:   idx,
				ModelVariant: s.ModelVariant,
				ResizeFormat: f,
				MasterImage:  img,
			})
			idx++
		}
	}
	return tasks
}

// RoomRedesignerSpec: parameters enrich a single prompt per room image.
type RoomRedesignerSpec struct {
	RoomImages   []string     `json:"room_images"`
	StylePrompt  string       `json:"style_prompt"`
	ModelVariant ModelVariant `json:"model_variant"`
	AspectRatio  string       `json:"aspect_ratio"`
	Size         string       `json:"size"`
}

func (s *RoomRedesignerSpec) Type() WorkflowType { return WorkflowRoomRedesigner }

func (s *RoomRedesignerSpec) Validate() error {
	if len(s.RoomImages) == 0 {
		return fmt.Errorf("EMPTY_PROMPTS")
	}
	if s.StylePrompt == "" {
		return fmt.Errorf("MISSING_PROMPTS")
	}
	return nil
}

func (s *RoomRedesignerSpec) Tasks() []PromptTask {
	tasks := make([]PromptTask, 0, len(s.RoomImages))
	for i, room := range s.RoomImages {
		tasks = append(tasks, PromptTask{
			BatchIndex:      i,
			PromptText:      s.StylePrompt,
			ModelVariant:    s.ModelVariant,
			AspectRatio:     s.AspectRatio,
			Size:            s.Size,
			ReferenceImages: []string{room},
		})
	}
	return tasks
}

func nonEmpty(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
