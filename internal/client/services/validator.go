package services

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
)

// Validator checks a resource before it is written.
type Validator interface {
	Validate(r models.Resource) error
}

type ValidatorFunc func(r models.Resource) error

func (f ValidatorFunc) Validate(r models.Resource) error { return f(r) }

// DefaultValidator performs structural checks only.
type DefaultValidator struct{}

func (DefaultValidator) Validate(r models.Resource) error {
	if r == nil {
		return &models.ValidationError{Field: "resource", Msg: "is required"}
	}
	if strings.TrimSpace(r.ResourceType()) == "" {
		return &models.ValidationError{Field: "resourceType", Msg: "is required"}
	}
	for i, a := range r.Attachments() {
		field := fmt.Sprintf("attachment[%d]", i)
		if a.Data == nil && a.ID == "" {
			return &models.ValidationError{Field: field, Msg: "has neither data nor id"}
		}
		if a.Data == nil && a.ContentType == "" {
			return &models.ValidationError{Field: field + ".contentType", Msg: "is required"}
		}
	}
	for i, id := range r.Identifiers() {
		if id.Value == "" {
			return &models.ValidationError{Field: fmt.Sprintf("identifier[%d].value", i), Msg: "is empty"}
		}
	}
	return nil
}

func validateAnnotations(annotations []string) error {
	for i, a := range annotations {
		if strings.TrimSpace(a) == "" {
			return &models.ValidationError{Field: fmt.Sprintf("annotations[%d]", i), Msg: "is empty"}
		}
	}
	return nil
}
