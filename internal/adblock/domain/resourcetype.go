package domain

import (
	"fmt"
	"strings"
)

// ResourceType is the canonical classification of a request's purpose.
// It is a closed set; caller-supplied labels are folded into it by
// NormalizeResourceType.
type ResourceType uint8

const (
	TypeOther ResourceType = iota
	TypeDocument
	TypeSubdocument
	TypeStylesheet
	TypeScript
	TypeImage
	TypeMedia
	TypeXMLHTTPRequest
)

// String returns the canonical filter-list name of the type.
func (t ResourceType) String() string {
	switch t {
	case TypeOther:
		return "other"
	case TypeDocument:
		return "document"
	case TypeSubdocument:
		return "subdocument"
	case TypeStylesheet:
		return "stylesheet"
	case TypeScript:
		return "script"
	case TypeImage:
		return "image"
	case TypeMedia:
		return "media"
	case TypeXMLHTTPRequest:
		return "xmlhttprequest"
	default:
		return fmt.Sprintf("ResourceType(%d)", t)
	}
}

// Mask returns the single-bit TypeMask for t.
func (t ResourceType) Mask() TypeMask { return 1 << t }

// TypeMask is a set of resource types a network rule applies to.
type TypeMask uint16

const (
	// MaskAll covers every resource type, documents included.
	MaskAll TypeMask = 1<<(TypeXMLHTTPRequest+1) - 1
	// MaskDefault is applied to rules without type options: everything but
	// top-level documents.
	MaskDefault = MaskAll &^ (1 << TypeDocument)
)

// Has reports whether the mask includes t.
func (m TypeMask) Has(t ResourceType) bool { return m&t.Mask() != 0 }

// callerLabels is the single mapping table from caller-supplied labels to
// canonical types. Unlisted labels are TypeOther.
var callerLabels = map[string]ResourceType{
	"document":       TypeDocument,
	"main_frame":     TypeDocument,
	"doc":            TypeDocument,
	"subdocument":    TypeSubdocument,
	"sub_frame":      TypeSubdocument,
	"iframe":         TypeSubdocument,
	"frame":          TypeSubdocument,
	"stylesheet":     TypeStylesheet,
	"link":           TypeStylesheet,
	"css":            TypeStylesheet,
	"style":          TypeStylesheet,
	"script":         TypeScript,
	"js":             TypeScript,
	"image":          TypeImage,
	"img":            TypeImage,
	"imageset":       TypeImage,
	"ping-image":     TypeImage,
	"media":          TypeMedia,
	"video":          TypeMedia,
	"audio":          TypeMedia,
	"xmlhttprequest": TypeXMLHTTPRequest,
	"xhr":            TypeXMLHTTPRequest,
	"fetch":          TypeXMLHTTPRequest,
}

// NormalizeResourceType folds a caller label (case-insensitive) into the
// canonical enum.
func NormalizeResourceType(label string) ResourceType {
	if t, ok := callerLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return t
	}
	return TypeOther
}

// optionTypes maps filter-list type options to canonical types. Types the
// engine has no dedicated class for are accounted as "other", which is where
// callers' unrecognized labels land as well.
var optionTypes = map[string]ResourceType{
	"document":       TypeDocument,
	"doc":            TypeDocument,
	"subdocument":    TypeSubdocument,
	"frame":          TypeSubdocument,
	"stylesheet":     TypeStylesheet,
	"css":            TypeStylesheet,
	"script":         TypeScript,
	"image":          TypeImage,
	"media":          TypeMedia,
	"xmlhttprequest": TypeXMLHTTPRequest,
	"xhr":            TypeXMLHTTPRequest,
	"other":          TypeOther,
	"font":           TypeOther,
	"object":         TypeOther,
	"ping":           TypeOther,
	"websocket":      TypeOther,
	"beacon":         TypeOther,
}

// ParseOptionType resolves a filter option name such as "script" or "xhr".
func ParseOptionType(name string) (ResourceType, bool) {
	t, ok := optionTypes[name]
	return t, ok
}
