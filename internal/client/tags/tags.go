// Package tags builds and parses searchable record tags.
//
// A tag is lower(percentEncode(key)) + "=" + lower(percentEncode(value)).
// Everything except ASCII letters and digits is percent-encoded, so "=" and
// "," never appear unescaped inside a key or value. Tags are lowercased and
// therefore case-insensitive.
package tags

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
)

const Separator = "="

// Tag keys generated by the record engine.
const (
	KeyResourceType    = "resourcetype"
	KeyFHIRVersion     = "fhirversion"
	KeyClient          = "client"
	KeyPartner         = "partner"
	KeyUpdatedByClient = "updatedbyclient"
	KeyUpdatedBy       = "updatedbypartner"
	KeyCustom          = "custom"
)

// GeneratedKeys are the keys stamped by Generator.
var GeneratedKeys = []string{KeyResourceType, KeyFHIRVersion, KeyClient, KeyPartner, KeyUpdatedByClient, KeyUpdatedBy}

var ErrMalformedTag = errors.New("malformed tag")

// EncodeValue percent-encodes s and lowercases the result.
func EncodeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		default:
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

// Build returns the tag for key and value.
func Build(key, value string) string {
	return EncodeValue(key) + Separator + EncodeValue(value)
}

// Parse splits a tag into its decoded key and value.
func Parse(tag string) (key, value string, err error) {
	k, v, ok := strings.Cut(tag, Separator)
	if !ok || k == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTag, tag)
	}
	if key, err = url.PathUnescape(k); err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTag, tag)
	}
	if value, err = url.PathUnescape(v); err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTag, tag)
	}
	return key, value, nil
}

// Canonical re-encodes a caller supplied "key=value" tag so it compares
// equal to Build(key, value). Already canonical tags are returned unchanged.
func Canonical(tag string) (string, error) {
	k, v, err := Parse(tag)
	if err != nil {
		return "", err
	}
	return Build(k, v), nil
}

// CanonicalSet applies Canonical to every tag. A nil set stays nil.
func CanonicalSet(tagSet []string) ([]string, error) {
	if tagSet == nil {
		return nil, nil
	}
	out := make([]string, len(tagSet))
	for i, t := range tagSet {
		c, err := Canonical(t)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Annotation returns the custom tag for a caller annotation.
func Annotation(value string) string {
	return Build(KeyCustom, value)
}

// Annotations extracts decoded custom annotations from a tag set.
func Annotations(tagSet []string) []string {
	var out []string
	for _, t := range tagSet {
		k, v, err := Parse(t)
		if err != nil || k != KeyCustom {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Value returns the decoded value of the first tag with key.
func Value(tagSet []string, key string) (string, bool) {
	for _, t := range tagSet {
		k, v, err := Parse(t)
		if err == nil && k == key {
			return v, true
		}
	}
	return "", false
}

// Without drops every tag whose key is one of keys.
func Without(tagSet []string, keys ...string) []string {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[EncodeValue(k)] = struct{}{}
	}
	out := make([]string, 0, len(tagSet))
	for _, t := range tagSet {
		k, _, _ := strings.Cut(t, Separator)
		if _, ok := drop[k]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Only keeps the tags whose key is one of keys.
func Only(tagSet []string, keys ...string) []string {
	keep := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keep[EncodeValue(k)] = struct{}{}
	}
	var out []string
	for _, t := range tagSet {
		k, _, _ := strings.Cut(t, Separator)
		if _, ok := keep[k]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Unique removes duplicate tags, keeping the first occurrence.
func Unique(tagSet []string) []string {
	seen := make(map[string]struct{}, len(tagSet))
	out := make([]string, 0, len(tagSet))
	for _, t := range tagSet {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Generator produces the tags the engine stamps on every write.
type Generator struct {
	ClientID  string
	PartnerID string
}

// partnerOf derives the partner id from a "partner#client" client id.
func partnerOf(clientID string) string {
	partner, _, _ := strings.Cut(clientID, "#")
	return partner
}

func (g Generator) partner() string {
	if g.PartnerID != "" {
		return g.PartnerID
	}
	return partnerOf(g.ClientID)
}

// ForCreate returns the full generated tag set of a new record.
func (g Generator) ForCreate(resourceType string) []string {
	out := []string{
		Build(KeyResourceType, resourceType),
		Build(KeyFHIRVersion, models.FHIRVersion),
	}
	if g.ClientID != "" {
		out = append(out, Build(KeyClient, g.ClientID))
	}
	if p := g.partner(); p != "" {
		out = append(out, Build(KeyPartner, p))
	}
	return append(out, g.updated()...)
}

// ForUpdate drops the previous updated-by tags from prev and appends fresh ones.
func (g Generator) ForUpdate(prev []string) []string {
	out := Without(prev, KeyUpdatedBy, KeyUpdatedByClient)
	return append(out, g.updated()...)
}

func (g Generator) updated() []string {
	var out []string
	if g.ClientID != "" {
		out = append(out, Build(KeyUpdatedByClient, g.ClientID))
	}
	if p := g.partner(); p != "" {
		out = append(out, Build(KeyUpdatedBy, p))
	}
	return out
}
