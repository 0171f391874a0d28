package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResource_TypedVariants(t *testing.T) {
	body := `{"resourceType":"DocumentReference","id":"r1","status":"current",
	  "content":[{"attachment":{"id":"a1","title":"scan","contentType":"image/png"}},{"attachment":{"id":"a2"}}]}`

	r, err := DecodeResource([]byte(body))
	require.NoError(t, err)

	doc, ok := r.(*DocumentReference)
	require.True(t, ok)
	assert.Equal(t, "r1", doc.ResourceID())
	assert.Equal(t, "current", doc.Status)
	require.Len(t, doc.Attachments(), 2)
	assert.Equal(t, "a1", doc.Attachments()[0].ID)

	doc.Attachments()[1].ID = "changed"
	assert.Equal(t, "changed", doc.Content[1].Attachment.ID)
}

func TestDecodeResource_UnknownKindIsGeneric(t *testing.T) {
	body := `{"resourceType":"Condition","id":"c1","clinicalStatus":"active","note":[{"text":"x"}]}`

	r, err := DecodeResource([]byte(body))
	require.NoError(t, err)

	g, ok := r.(*Generic)
	require.True(t, ok)
	assert.Equal(t, "Condition", g.ResourceType())
	assert.Nil(t, g.Attachments())

	out, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(out))
}

func TestDecodeResource_MissingType(t *testing.T) {
	_, err := DecodeResource([]byte(`{"id":"x"}`))
	require.ErrorIs(t, err, ErrMissingResourceType)
}

func TestAttachments_NestedVariants(t *testing.T) {
	obs := &Observation{
		ValueAttachment: &Attachment{ID: "v"},
		Component:       []ObservationComponent{{ValueAttachment: &Attachment{ID: "c1"}}, {ValueString: "x"}},
	}
	require.Len(t, obs.Attachments(), 2)

	qr := &QuestionnaireResponse{Item: []QuestionnaireResponseItem{{
		LinkID: "1",
		Answer: []QuestionnaireResponseAnswer{{
			ValueAttachment: &Attachment{ID: "q1"},
			Item:            []QuestionnaireResponseItem{{Answer: []QuestionnaireResponseAnswer{{ValueAttachment: &Attachment{ID: "q2"}}}}},
		}},
		Item: []QuestionnaireResponseItem{{Answer: []QuestionnaireResponseAnswer{{ValueAttachment: &Attachment{ID: "q3"}}}}},
	}}}
	ids := []string{}
	for _, a := range qr.Attachments() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"q1", "q2", "q3"}, ids)

	p := &Patient{Photo: []*Attachment{nil, {ID: "p"}}}
	require.Len(t, p.Attachments(), 1)
}

func TestMergeResource_OverlaysPresentFields(t *testing.T) {
	current := &Patient{Base: Base{ID: "p1"}, Gender: "female", BirthDate: "1990-01-01"}
	partial := &Patient{BirthDate: "1991-02-02"}

	merged, err := MergeResource(current, partial)
	require.NoError(t, err)

	p := merged.(*Patient)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "female", p.Gender)
	assert.Equal(t, "1991-02-02", p.BirthDate)

	_, err = MergeResource(current, &Medication{})
	require.Error(t, err)
}

func TestAttachment_CreationTime(t *testing.T) {
	a := &Attachment{Creation: "2020-11-15"}
	ts, ok := a.CreationTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 11, 15, 0, 0, 0, 0, time.UTC), ts)

	a.Creation = "2019-03-12T10:00:00Z"
	_, ok = a.CreationTime()
	require.True(t, ok)

	a.Creation = "yesterday"
	_, ok = a.CreationTime()
	require.False(t, ok)
}
