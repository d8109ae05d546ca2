package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Messages returned to API clients. They are part of the wire contract.
const (
	MsgInvalidPayload = "Invalid request payload"
	MsgTitleRequired  = "Title is required"
	MsgTitleString    = "Title must be a string"
	MsgContentString  = "Content must be a string"
)

var validate = validator.New()

type createInput struct {
	Title   string `validate:"required"`
	Content string
}

type patchInput struct {
	Title   *string `validate:"omitnil,min=1"`
	Content *string
}

// ParseCreate decodes and validates a create payload. Title must be a
// non-empty string and content must be a string (possibly empty).
func ParseCreate(body []byte) (*Document, error) {
	fields, err := decodeFields(body)
	if err != nil {
		return nil, err
	}
	var (
		in   createInput
		errs []string
	)
	switch v := fields["title"].(type) {
	case string:
		in.Title = v
	default:
		if truthy(v) {
			// present but mistyped: report the type, not the absence
			in.Title = fmt.Sprint(v)
			errs = append(errs, MsgTitleString)
		}
	}
	if v, ok := fields["content"].(string); ok {
		in.Content = v
	} else {
		errs = append(errs, MsgContentString)
	}
	errs = append(validationMessages(validate.Struct(in)), errs...)
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &Document{Title: in.Title, Content: in.Content}, nil
}

// ParsePatch decodes and validates a partial update payload. Only supplied
// fields are checked; a JSON null counts as not supplied.
func ParsePatch(body []byte) (Patch, error) {
	fields, err := decodeFields(body)
	if err != nil {
		return Patch{}, err
	}
	var (
		in   patchInput
		errs []string
	)
	if v, ok := fields["title"]; ok && v != nil {
		if s, ok := v.(string); ok {
			in.Title = &s
		} else if truthy(v) {
			errs = append(errs, MsgTitleString)
		} else {
			errs = append(errs, MsgTitleRequired)
		}
	}
	if v, ok := fields["content"]; ok && v != nil {
		if s, ok := v.(string); ok {
			in.Content = &s
		} else {
			errs = append(errs, MsgContentString)
		}
	}
	errs = append(validationMessages(validate.Struct(in)), errs...)
	if len(errs) > 0 {
		return Patch{}, &ValidationError{Errors: errs}
	}
	return Patch{Title: in.Title, Content: in.Content}, nil
}

// ValidateSnapshot applies the create rules to a snapshot about to be saved.
func ValidateSnapshot(s Snapshot) error {
	if errs := validationMessages(validate.Struct(createInput{Title: s.Title, Content: s.Content})); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func decodeFields(body []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, &ValidationError{Errors: []string{MsgInvalidPayload}}
	}
	return fields, nil
}

func validationMessages(err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch {
		case fe.Field() == "Title" && (fe.Tag() == "required" || fe.Tag() == "min"):
			out = append(out, MsgTitleRequired)
		default:
			out = append(out, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return out
}

// truthy mirrors how browser clients judge a JSON value present.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// Validate applies the update rules to a patch built in code.
func (p Patch) Validate() error {
	if errs := validationMessages(validate.Struct(patchInput{Title: p.Title, Content: p.Content})); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
