package binder

import (
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/shelfsync/pkg/errcodes"
)

var unknownFieldsRE = regexp.MustCompile(`unknown field "(.*)"`)

// Binder implements echo.Binder. It decodes the query string or JSON body into
// a struct, cleans it up with mold, fills defaults and validates it.
type Binder struct {
	queryDecoder *schema.Decoder
	conform      *mold.Transformer
	validate     *validator.Validate
}

func New() (*Binder, error) {
	queryDecoder := schema.NewDecoder()
	queryDecoder.SetAliasTag("query")
	conform := modifiers.New()
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := validate.RegisterValidation(feed, feedValidator); err != nil {
		return nil, errors.WithStack(err)
	}

	return &Binder{queryDecoder, conform, validate}, nil
}

// Bind binds, modifies, and validates payloads against the given struct.
func (b *Binder) Bind(i interface{}, c echo.Context) error {
	req := c.Request()
	log := logger.FromEchoContext(c)

	if req.ContentLength > 0 {
		ctype := req.Header.Get(echo.HeaderContentType)
		if !strings.HasPrefix(ctype, echo.MIMEApplicationJSON) {
			return errcodes.UnsupportedMediaType()
		}

		dec := json.NewDecoder(req.Body)
		dec.DisallowUnknownFields()
		defer req.Body.Close()
		if err := dec.Decode(i); err != nil {
			if matches := unknownFieldsRE.FindStringSubmatch(err.Error()); len(matches) > 1 {
				return errcodes.UnknownParameter(matches[1])
			}

			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return errcodes.ValidationTypeError(formatUnmarshalTypeError(typeErr))
			}

			log.Err(err).Error("unknown json decode error")
			return errcodes.MalformedPayload()
		}
	} else if req.Method == http.MethodGet || req.Method == http.MethodDelete {
		if err := b.decodeQuery(i, c.QueryParams()); err != nil {
			return err
		}
	} else if !emptyBodyAllowed(i) {
		return errcodes.EmptyRequestBody()
	}

	if err := b.conform.Struct(req.Context(), i); err != nil {
		return errors.WithStack(err)
	}

	if err := defaults.Set(i); err != nil {
		return errors.WithStack(err)
	}

	if err := b.validate.Struct(i); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) || len(errs) == 0 {
			return errors.WithStack(err)
		}
		return errcodes.ValidationError(formatValidationError(errs[0]))
	}
	return nil
}

// emptyBodyAllowed reports whether a bodiless write request can bind to i,
// which is the case when i has no required fields.
func emptyBodyAllowed(i interface{}) bool {
	t := reflect.TypeOf(i)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for n := 0; n < t.NumField(); n++ {
		if strings.Contains(t.Field(n).Tag.Get("validate"), required) {
			return false
		}
	}
	return true
}

func (b *Binder) decodeQuery(i interface{}, params url.Values) error {
	err := b.queryDecoder.Decode(i, params)
	if err == nil {
		return nil
	}

	var errs schema.MultiError
	if !errors.As(err, &errs) {
		return errors.WithStack(err)
	}
	for _, e := range errs {
		var conversionErr schema.ConversionError
		if errors.As(e, &conversionErr) {
			return errcodes.ValidationTypeError(formatSchemaConversionError(conversionErr))
		}
		var unknownErr schema.UnknownKeyError
		if errors.As(e, &unknownErr) {
			return errcodes.UnknownParameter(unknownErr.Key)
		}
		return errors.WithStack(e)
	}
	return errors.WithStack(err)
}
