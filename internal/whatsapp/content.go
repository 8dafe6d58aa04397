package whatsapp

import (
	"context"
	"fmt"
	"strings"
)

// Content is the kind-specific payload of an inbound message.
type Content interface {
	isContent()
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type TextContent struct {
	Text string
	// Extended is set for extended text (links, quotes, mentions).
	Extended bool
}

type CaptionContent struct {
	Media   MediaKind
	Caption string
}

type DocumentContent struct {
	FileName string
}

type StickerContent struct{}

type LocationContent struct {
	Name string
}

type AudioContent struct {
	Voice   bool
	Seconds uint32
	// Fetch downloads and decrypts the audio payload.
	Fetch func(ctx context.Context) ([]byte, error)
}

type UnsupportedContent struct {
	Kind string
}

func (TextContent) isContent()        {}
func (CaptionContent) isContent()     {}
func (DocumentContent) isContent()    {}
func (StickerContent) isContent()     {}
func (LocationContent) isContent()    {}
func (AudioContent) isContent()       {}
func (UnsupportedContent) isContent() {}

const (
	stickerMarker  = "[Figurinha]"
	documentFormat = "[Documento: %s]"
	locationFormat = "[Localização: %s]"
)

// ExtractText returns the textual content for every non-audio variant.
// Audio and unsupported content yield ok=false.
func ExtractText(c Content) (text string, ok bool) {
	switch v := c.(type) {
	case TextContent:
		return v.Text, true
	case CaptionContent:
		return v.Caption, true
	case DocumentContent:
		name := strings.TrimSpace(v.FileName)
		if name == "" {
			name = "sem nome"
		}
		return fmt.Sprintf(documentFormat, name), true
	case StickerContent:
		return stickerMarker, true
	case LocationContent:
		name := strings.TrimSpace(v.Name)
		if name == "" {
			name = "compartilhada"
		}
		return fmt.Sprintf(locationFormat, name), true
	default:
		return "", false
	}
}
