package classifier

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

var (
	ErrEmptyInput  = errors.New("either tweet_text or a resolvable image is required")
	ErrMalformed   = errors.New("malformed request body")
	ErrBadImage    = errors.New("image_data is not a decodable image")
	ErrUnsupported = errors.New("unsupported content type")
	ErrTooLarge    = errors.New("image exceeds size limit")
)

// MaxImageBytes bounds inline and downloaded images.
const MaxImageBytes = 10 << 20

// Kind tags the shape of an incoming payload.
type Kind int

const (
	KindJSON Kind = iota
	KindBinary
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	}
	return "unknown"
}

// Request is the JSON body accepted by classify and orchestrate.
type Request struct {
	TweetText string `json:"tweet_text"`
	ImageURL  string `json:"image_url"`
	ImageData string `json:"image_data"`
	Timestamp string `json:"timestamp"`
}

type Image struct {
	MediaType string
	Data      []byte
}

func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

func (i *Image) DataURI() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

// Input is a classified payload ready for the model. Image is set when the
// bytes are already in hand; ImageURL is fetched lazily by the classifier.
type Input struct {
	Kind      Kind
	Text      string
	ImageURL  string
	Image     *Image
	Timestamp string
}

func (in Input) HasImage() bool {
	return in.Image != nil || in.ImageURL != ""
}

// ParseInput decides the payload shape from the content type and leading
// bytes before decoding anything.
func ParseInput(contentType string, body []byte) (Input, error) {
	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	trimmed := bytes.TrimSpace(body)

	switch {
	case mediaType == "application/json" || (mediaType == "" && bytes.HasPrefix(trimmed, []byte("{"))):
		var req Request
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return Input{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return FromRequest(req)

	case strings.HasPrefix(mediaType, "image/") || isImage(body):
		if len(body) > MaxImageBytes {
			return Input{}, ErrTooLarge
		}
		return Input{Kind: KindBinary, Image: &Image{MediaType: sniffImage(body, mediaType), Data: body}}, nil

	case mediaType == "text/plain" || mediaType == "":
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Input{}, ErrEmptyInput
		}
		return Input{Kind: KindText, Text: text}, nil
	}
	return Input{}, fmt.Errorf("%w: %s", ErrUnsupported, mediaType)
}

// FromRequest validates a decoded JSON body and decodes any inline image.
func FromRequest(req Request) (Input, error) {
	in := Input{
		Kind:      KindJSON,
		Text:      strings.TrimSpace(req.TweetText),
		ImageURL:  strings.TrimSpace(req.ImageURL),
		Timestamp: req.Timestamp,
	}
	if data := strings.TrimSpace(req.ImageData); data != "" {
		img, err := DecodeImageData(data)
		if err != nil {
			return Input{}, err
		}
		in.Image = img
	}
	if in.Text == "" && !in.HasImage() {
		return Input{}, ErrEmptyInput
	}
	return in, nil
}

// DecodeImageData accepts a data URI or bare base64.
func DecodeImageData(s string) (*Image, error) {
	declared := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, ErrBadImage
		}
		meta := s[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, ErrBadImage
		}
		declared = strings.TrimSuffix(meta, ";base64")
		payload = s[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, ErrBadImage
		}
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	if !isImage(data) && !strings.HasPrefix(declared, "image/") {
		return nil, ErrBadImage
	}
	return &Image{MediaType: sniffImage(data, declared), Data: data}, nil
}

func isImage(b []byte) bool {
	return strings.HasPrefix(http.DetectContentType(b), "image/")
}

func sniffImage(b []byte, declared string) string {
	if ct := http.DetectContentType(b); strings.HasPrefix(ct, "image/") {
		return ct
	}
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return "image/jpeg"
}
