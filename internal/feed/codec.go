// Package feed carries record changes from the store's outbox to the dispatcher.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuongbtq/textjob/internal/domain"
)

// ContentType of encoded change events
const ContentType = "application/json"

// Attribute is a typed attribute value of a record image. Only string values are produced.
type Attribute struct {
	S    *string `json:"S,omitempty"`
	N    *string `json:"N,omitempty"`
	NULL *bool   `json:"NULL,omitempty"`
}

// UnmarshalJSON also accepts a bare JSON string or null in place of the typed object
func (a *Attribute) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.S = &s
		return nil
	case string(b) == "null":
		null := true
		a.NULL = &null
		return nil
	}

	type plain Attribute
	return json.Unmarshal(b, (*plain)(a))
}

// Image is the attribute map of one record
type Image map[string]Attribute

type streamRecord struct {
	NewImage       Image  `json:"NewImage"`
	SequenceNumber string `json:"SequenceNumber,omitempty"`
}

type wireEvent struct {
	EventName string        `json:"eventName"`
	Sequence  int64         `json:"sequence,omitempty"`
	NewImage  Image         `json:"newImage,omitempty"`
	Stream    *streamRecord `json:"dynamodb,omitempty"`
}

// attribute aliases accepted on decode, canonical name first
var (
	inputTextNames  = []string{"input_text", "inputText"}
	inputFileNames  = []string{"input_file_path", "inputFilePath"}
	outputFileNames = []string{"output_file_path", "outputFilePath"}
)

// fileNameAttr holds a bare object key relative to the default bucket
const fileNameAttr = "fileName"

// Decoder turns wire items into change events
type Decoder struct {
	// DefaultBucket qualifies bare fileName attributes
	DefaultBucket string
}

// Decode parses one feed item. Any shape or type problem is reported as *domain.MalformedEventError.
func (d Decoder) Decode(body []byte) (domain.ChangeEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.ChangeEvent{}, &domain.MalformedEventError{Reason: "invalid json", Err: err}
	}

	img := w.NewImage
	seq := w.Sequence
	if img == nil && w.Stream != nil {
		img = w.Stream.NewImage
		if seq == 0 && w.Stream.SequenceNumber != "" {
			n, err := strconv.ParseInt(w.Stream.SequenceNumber, 10, 64)
			if err != nil {
				return domain.ChangeEvent{}, &domain.MalformedEventError{Reason: "invalid sequence number", Err: err}
			}
			seq = n
		}
	}
	if img == nil {
		return domain.ChangeEvent{}, &domain.MalformedEventError{Reason: "missing new image"}
	}

	id, err := img.str("id")
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	if id == nil || strings.TrimSpace(*id) == "" {
		return domain.ChangeEvent{}, &domain.MalformedEventError{Reason: "missing id"}
	}

	rec := domain.JobRecord{ID: *id}

	if rec.InputText, err = img.str(inputTextNames...); err != nil {
		return domain.ChangeEvent{}, err
	}
	if rec.InputFilePath, err = img.str(inputFileNames...); err != nil {
		return domain.ChangeEvent{}, err
	}
	if rec.InputFilePath == nil {
		name, err := img.str(fileNameAttr)
		if err != nil {
			return domain.ChangeEvent{}, err
		}
		if name != nil && *name != "" {
			path := *name
			if d.DefaultBucket != "" {
				path = d.DefaultBucket + "/" + path
			}
			rec.InputFilePath = &path
		}
	}
	if rec.OutputFilePath, err = img.str(outputFileNames...); err != nil {
		return domain.ChangeEvent{}, err
	}

	status, err := img.str("status")
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	rec.Status = domain.Deref(status)

	if rec.ErrorMessage, err = img.str("error_message"); err != nil {
		return domain.ChangeEvent{}, err
	}

	return domain.ChangeEvent{
		Name:     strings.ToUpper(w.EventName),
		Sequence: seq,
		Record:   rec,
	}, nil
}

// str returns the first present attribute among names. NULL and absent both yield nil.
func (img Image) str(names ...string) (*string, error) {
	for _, name := range names {
		a, ok := img[name]
		if !ok {
			continue
		}
		switch {
		case a.S != nil:
			v := *a.S
			return &v, nil
		case a.NULL != nil && *a.NULL:
			return nil, nil
		default:
			return nil, &domain.MalformedEventError{Reason: fmt.Sprintf("attribute %s is not a string", name)}
		}
	}
	return nil, nil
}

// Encode renders a change event in wire form
func Encode(ev domain.ChangeEvent) ([]byte, error) {
	img := Image{"id": stringAttr(ev.Record.ID)}

	put := func(name string, v *string) {
		if v != nil {
			img[name] = stringAttr(*v)
		}
	}
	put("input_text", ev.Record.InputText)
	put("input_file_path", ev.Record.InputFilePath)
	put("output_file_path", ev.Record.OutputFilePath)
	put("error_message", ev.Record.ErrorMessage)
	if ev.Record.Status != "" {
		img["status"] = stringAttr(ev.Record.Status)
	}

	return json.Marshal(wireEvent{
		EventName: ev.Name,
		Sequence:  ev.Sequence,
		NewImage:  img,
	})
}

func stringAttr(s string) Attribute {
	return Attribute{S: &s}
}
