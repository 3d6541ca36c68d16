package block

import (
	"mime"
	"strings"

	"github.com/munnerz/goautoneg"
)

// ContentType is the family of block page served to a client.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentJSON
	ContentXML
	ContentTextXML
	ContentHTML
)

// MIME returns the content type header value for c. Unknown content is
// served as HTML.
func (c ContentType) MIME() string {
	switch c {
	case ContentJSON:
		return "application/json"
	case ContentXML:
		return "application/xml"
	case ContentTextXML:
		return "text/xml"
	default:
		return "text/html"
	}
}

func (c ContentType) String() string {
	if c == ContentUnknown {
		return "unknown"
	}
	return c.MIME()
}

// text/html leads so that wildcard clauses fall back to HTML.
var acceptable = []string{"text/html", "application/json", "application/xml", "text/xml"}

// ClassifyContentType maps an already declared Content-Type value.
func ClassifyContentType(value string) ContentType {
	value = strings.TrimSpace(value)
	if value == "" {
		return ContentUnknown
	}

	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(value, ";", 2)[0]))
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return ContentJSON
	case mediaType == "application/xml" || strings.HasSuffix(mediaType, "+xml"):
		return ContentXML
	case mediaType == "text/xml":
		return ContentTextXML
	case mediaType == "text/html":
		return ContentHTML
	}
	return ContentUnknown
}

// ClassifyAccept picks the block page family preferred by an Accept header.
func ClassifyAccept(accept string) ContentType {
	if strings.TrimSpace(accept) == "" {
		return ContentUnknown
	}

	switch goautoneg.Negotiate(accept, acceptable) {
	case "application/json":
		return ContentJSON
	case "application/xml":
		return ContentXML
	case "text/xml":
		return ContentTextXML
	case "text/html":
		return ContentHTML
	}
	return ContentUnknown
}
