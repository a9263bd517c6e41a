// internal/app/system/inputval/validators.go
package inputval

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/go-playground/validator/v10"
)

// FieldError is one failed rule, keyed by the field's JSON name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result collects the validation failures for one input struct.
type Result struct {
	Errors []FieldError
}

// HasErrors reports whether any rule failed.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// First returns the first message, or "".
func (r *Result) First() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// All joins every message with "; ".
func (r *Result) All() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Map returns the messages keyed by field, first failure per field wins.
func (r *Result) Map() map[string]string {
	m := make(map[string]string, len(r.Errors))
	for _, e := range r.Errors {
		if _, ok := m[e.Field]; !ok {
			m[e.Field] = e.Message
		}
	}
	return m
}

var (
	once     sync.Once
	validate *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
			return IsValidObjectID(fl.Field().String())
		})
		_ = v.RegisterValidation("emailaddr", func(fl validator.FieldLevel) bool {
			return IsValidEmail(fl.Field().String())
		})
		_ = v.RegisterValidation("orderstatus", func(fl validator.FieldLevel) bool {
			return status.IsOrderStatus(status.NormalizeOrder(fl.Field().String()))
		})
		_ = v.RegisterValidation("groupstatus", func(fl validator.FieldLevel) bool {
			return status.IsGroupStatus(strings.ToLower(strings.TrimSpace(fl.Field().String())))
		})
		validate = v
	})
	return validate
}

// Validate runs the `validate` struct tags on s and turns failures into
// human readable messages. The `label` tag names the field in messages.
func Validate(s any) *Result {
	res := &Result{}
	err := engine().Struct(s)
	if err == nil {
		return res
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		res.Errors = append(res.Errors, FieldError{Message: err.Error()})
		return res
	}
	labels := labelsOf(s)
	for _, fe := range verrs {
		label := labels[fe.StructField()]
		if label == "" {
			label = fe.StructField()
		}
		res.Errors = append(res.Errors, FieldError{
			Field:   fe.Field(),
			Message: message(fe, label),
		})
	}
	return res
}

func labelsOf(s any) map[string]string {
	t := reflect.TypeOf(s)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := map[string]string{}
	if t == nil || t.Kind() != reflect.Struct {
		return out
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if l := f.Tag.Get("label"); l != "" {
			out[f.Name] = l
		}
	}
	return out
}

func message(fe validator.FieldError, label string) string {
	switch fe.Tag() {
	case "required":
		return label + " is required."
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters.", label, fe.Param())
	case "email", "emailaddr":
		return "A valid email address is required."
	case "objectid":
		return label + " must be a valid ID."
	case "orderstatus":
		return label + " must be a valid order status."
	case "groupstatus":
		return label + ` must be "draft" or "published".`
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "dive":
		return label + " contains an invalid value."
	default:
		return label + " is invalid."
	}
}
