package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-session/internal/model"
)

var (
	// trans is the singleton English translator for validation errors.
	trans ut.Translator

	// standalone validates structs that never pass through gin binding,
	// such as question lists fetched from the backend.
	standalone     *govalidator.Validate
	standaloneOnce sync.Once
)

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		configure(v)
	}
}

func configure(v *govalidator.Validate) {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(questionStructLevel, model.Question{})

	// Register English translations.
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(v, trans)
}

// questionStructLevel enforces the two-option shape of TRUE_FALSE questions.
func questionStructLevel(sl govalidator.StructLevel) {
	q := sl.Current().Interface().(model.Question)
	if q.Type == model.QuestionTypeTrueFalse && len(q.Options) != 2 {
		sl.ReportError(q.Options, "options", "Options", "truefalse", "")
	}
}

func engine() *govalidator.Validate {
	standaloneOnce.Do(func() {
		standalone = govalidator.New(govalidator.WithRequiredStructEnabled())
		configure(standalone)
	})
	return standalone
}

// Struct validates v using `validate` tags.
func Struct(v interface{}) error {
	return engine().Struct(v)
}

// Questions validates a fetched question list: every question must be well
// formed and ids must be unique within the session.
func Questions(qs []model.Question) error {
	if len(qs) == 0 {
		return errors.New("question list is empty")
	}
	seen := make(map[string]struct{}, len(qs))
	for i := range qs {
		if err := Struct(qs[i]); err != nil {
			return fmt.Errorf("question %d: %s", i, joinFields(TranslateErrors(err)))
		}
		if _, dup := seen[qs[i].ID]; dup {
			return fmt.Errorf("question %d: duplicate id %q", i, qs[i].ID)
		}
		seen[qs[i].ID] = struct{}{}
	}
	return nil
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if fe.Tag() == "truefalse" {
				fields[fe.Field()] = "options must contain exactly 2 entries for TRUE_FALSE"
				continue
			}
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

func joinFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, "; ")
}
