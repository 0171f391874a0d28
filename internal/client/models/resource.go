package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FHIRVersion is the resource model version records are written with.
const FHIRVersion = "3.0.1"

var ErrMissingResourceType = errors.New("resource has no resourceType")

// Resource is the closed set of record payloads. Each variant exposes its
// attachments through Attachments, which returns pointers into the resource
// so that callers can rewrite ids and strip data in place.
//
// The unexported base method seals the union to this package.
type Resource interface {
	ResourceType() string
	ResourceID() string
	SetResourceID(id string)
	Identifiers() []Identifier
	SetIdentifiers(ids []Identifier)
	Attachments() []*Attachment
	base() *Base
}

// Base carries the fields every resource shares.
type Base struct {
	Type       string       `json:"resourceType"`
	ID         string       `json:"id,omitempty"`
	Identifier []Identifier `json:"identifier,omitempty"`
}

func (b *Base) ResourceID() string              { return b.ID }
func (b *Base) SetResourceID(id string)         { b.ID = id }
func (b *Base) Identifiers() []Identifier       { return b.Identifier }
func (b *Base) SetIdentifiers(ids []Identifier) { b.Identifier = ids }
func (b *Base) base() *Base                     { return b }

// Normalize stamps the variant's resourceType into the serialized body.
func Normalize(r Resource) {
	r.base().Type = r.ResourceType()
}

// CodeableConcept is kept deliberately loose: only the text and codings.
type CodeableConcept struct {
	Text   string   `json:"text,omitempty"`
	Coding []Coding `json:"coding,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// DocumentReference holds arbitrary documents in Content.
type DocumentReference struct {
	Base
	Status      string                     `json:"status,omitempty"`
	Type        *CodeableConcept           `json:"type,omitempty"`
	Description string                     `json:"description,omitempty"`
	Indexed     string                     `json:"indexed,omitempty"`
	Content     []DocumentReferenceContent `json:"content,omitempty"`
}

type DocumentReferenceContent struct {
	Attachment *Attachment `json:"attachment,omitempty"`
}

func (d *DocumentReference) ResourceType() string { return "DocumentReference" }

func (d *DocumentReference) Attachments() []*Attachment {
	var out []*Attachment
	for _, c := range d.Content {
		if c.Attachment != nil {
			out = append(out, c.Attachment)
		}
	}
	return out
}

type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Patient struct {
	Base
	Name      []HumanName   `json:"name,omitempty"`
	Gender    string        `json:"gender,omitempty"`
	BirthDate string        `json:"birthDate,omitempty"`
	Photo     []*Attachment `json:"photo,omitempty"`
}

func (p *Patient) ResourceType() string       { return "Patient" }
func (p *Patient) Attachments() []*Attachment { return compact(p.Photo) }

type Practitioner struct {
	Base
	Name  []HumanName   `json:"name,omitempty"`
	Photo []*Attachment `json:"photo,omitempty"`
}

func (p *Practitioner) ResourceType() string       { return "Practitioner" }
func (p *Practitioner) Attachments() []*Attachment { return compact(p.Photo) }

type Medication struct {
	Base
	Code  *CodeableConcept `json:"code,omitempty"`
	Image []*Attachment    `json:"image,omitempty"`
}

func (m *Medication) ResourceType() string       { return "Medication" }
func (m *Medication) Attachments() []*Attachment { return compact(m.Image) }

type DiagnosticReport struct {
	Base
	Status        string           `json:"status,omitempty"`
	Code          *CodeableConcept `json:"code,omitempty"`
	Conclusion    string           `json:"conclusion,omitempty"`
	PresentedForm []*Attachment    `json:"presentedForm,omitempty"`
}

func (d *DiagnosticReport) ResourceType() string       { return "DiagnosticReport" }
func (d *DiagnosticReport) Attachments() []*Attachment { return compact(d.PresentedForm) }

type Observation struct {
	Base
	Status          string                 `json:"status,omitempty"`
	Code            *CodeableConcept       `json:"code,omitempty"`
	ValueString     string                 `json:"valueString,omitempty"`
	ValueAttachment *Attachment            `json:"valueAttachment,omitempty"`
	Component       []ObservationComponent `json:"component,omitempty"`
}

type ObservationComponent struct {
	Code            *CodeableConcept `json:"code,omitempty"`
	ValueString     string           `json:"valueString,omitempty"`
	ValueAttachment *Attachment      `json:"valueAttachment,omitempty"`
}

func (o *Observation) ResourceType() string { return "Observation" }

func (o *Observation) Attachments() []*Attachment {
	out := compact([]*Attachment{o.ValueAttachment})
	for _, c := range o.Component {
		if c.ValueAttachment != nil {
			out = append(out, c.ValueAttachment)
		}
	}
	return out
}

type QuestionnaireResponse struct {
	Base
	Status string                      `json:"status,omitempty"`
	Item   []QuestionnaireResponseItem `json:"item,omitempty"`
}

type QuestionnaireResponseItem struct {
	LinkID string                        `json:"linkId,omitempty"`
	Text   string                        `json:"text,omitempty"`
	Answer []QuestionnaireResponseAnswer `json:"answer,omitempty"`
	Item   []QuestionnaireResponseItem   `json:"item,omitempty"`
}

type QuestionnaireResponseAnswer struct {
	ValueString     string                      `json:"valueString,omitempty"`
	ValueAttachment *Attachment                 `json:"valueAttachment,omitempty"`
	Item            []QuestionnaireResponseItem `json:"item,omitempty"`
}

func (q *QuestionnaireResponse) ResourceType() string { return "QuestionnaireResponse" }

func (q *QuestionnaireResponse) Attachments() []*Attachment {
	return questionnaireAttachments(q.Item, nil)
}

func questionnaireAttachments(items []QuestionnaireResponseItem, out []*Attachment) []*Attachment {
	for _, it := range items {
		for _, a := range it.Answer {
			if a.ValueAttachment != nil {
				out = append(out, a.ValueAttachment)
			}
			out = questionnaireAttachments(a.Item, out)
		}
		out = questionnaireAttachments(it.Item, out)
	}
	return out
}

// Generic carries any resource kind without attachment support, keeping
// unknown fields verbatim.
type Generic struct {
	Base
	Fields map[string]json.RawMessage `json:"-"`
}

func (g *Generic) ResourceType() string       { return g.Type }
func (g *Generic) Attachments() []*Attachment { return nil }

func (g *Generic) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.Fields)+3)
	for k, v := range g.Fields {
		out[k] = v
	}
	out["resourceType"] = g.Type
	if g.ID != "" {
		out["id"] = g.ID
	}
	if len(g.Identifier) > 0 {
		out["identifier"] = g.Identifier
	}
	return json.Marshal(out)
}

func (g *Generic) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var base Base
	if err := json.Unmarshal(b, &base); err != nil {
		return err
	}
	delete(fields, "resourceType")
	delete(fields, "id")
	delete(fields, "identifier")
	g.Base = base
	g.Fields = fields
	return nil
}

func compact(in []*Attachment) []*Attachment {
	var out []*Attachment
	for _, a := range in {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

var resourceFactories = map[string]func() Resource{
	"DocumentReference":     func() Resource { return &DocumentReference{} },
	"Patient":               func() Resource { return &Patient{} },
	"Practitioner":          func() Resource { return &Practitioner{} },
	"Medication":            func() Resource { return &Medication{} },
	"DiagnosticReport":      func() Resource { return &DiagnosticReport{} },
	"Observation":           func() Resource { return &Observation{} },
	"QuestionnaireResponse": func() Resource { return &QuestionnaireResponse{} },
}

// IsAttachmentCapable reports whether resourceType has a typed variant.
func IsAttachmentCapable(resourceType string) bool {
	_, ok := resourceFactories[resourceType]
	return ok
}

// DecodeResource picks the variant by resourceType; unknown kinds decode to Generic.
func DecodeResource(data []byte) (Resource, error) {
	var head struct {
		Type string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	if head.Type == "" {
		return nil, ErrMissingResourceType
	}

	var r Resource = &Generic{}
	if factory, ok := resourceFactories[head.Type]; ok {
		r = factory()
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", head.Type, err)
	}
	Normalize(r)
	return r, nil
}

// MergeResource overlays the top-level fields present in partial onto
// current. Both must be the same kind; absent (omitted) fields keep their
// current value.
func MergeResource(current, partial Resource) (Resource, error) {
	if current.ResourceType() != partial.ResourceType() {
		return nil, fmt.Errorf("cannot merge %s into %s", partial.ResourceType(), current.ResourceType())
	}
	Normalize(current)
	Normalize(partial)

	base, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	overlay, err := json.Marshal(partial)
	if err != nil {
		return nil, err
	}

	var merged, patch map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(overlay, &patch); err != nil {
		return nil, err
	}
	for k, v := range patch {
		merged[k] = v
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return DecodeResource(b)
}
