package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"registry/internal/dispatch"
	"registry/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Reserved parameters steer the response and are never passed on as fields.
const (
	paramActAs      = "as_user"
	paramFormat     = "format"
	paramReturnData = "return_data"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// commandInput is a parsed request: command fields plus reserved parameters.
type commandInput struct {
	fields   dispatch.Fields
	actAs    string
	format   string
	withData bool
}

func defaultInput() *commandInput {
	return &commandInput{fields: dispatch.Fields{}, format: formatJSON, withData: true}
}

// collect folds repeated keys into lists.
func collect(dst map[string][]string, key, value string) {
	dst[key] = append(dst[key], value)
}

func flatten(raw map[string][]string, into dispatch.Fields) {
	for k, vs := range raw {
		if len(vs) == 1 {
			into[k] = vs[0]
		} else {
			into[k] = vs
		}
	}
}

// jsonValue converts a decoded JSON value to a field value.
func jsonValue(key string, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return fmt.Sprint(val), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, el := range val {
			s, err := jsonValue(key, el)
			if err != nil {
				return nil, err
			}
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("field %q must not nest lists", key)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("field %q has an unsupported JSON type", key)
}

func parseJSONBody(body []byte, into dispatch.Fields) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	for k, v := range obj {
		fv, err := jsonValue(k, v)
		if err != nil {
			return err
		}
		into[k] = fv
	}
	return nil
}

// parseInput gathers fields from the query string and the body. Body values
// override query values.
func parseInput(c *fiber.Ctx) (*commandInput, error) {
	in := defaultInput()

	query := map[string][]string{}
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		collect(query, string(k), string(v))
	})
	flatten(query, in.fields)

	if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		switch {
		case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
			if err := parseJSONBody(c.Body(), in.fields); err != nil {
				return in, err
			}
		case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
			form, err := c.MultipartForm()
			if err != nil {
				return in, fmt.Errorf("invalid form body: %w", err)
			}
			body := map[string][]string{}
			for k, vs := range form.Value {
				body[k] = append(body[k], vs...)
			}
			flatten(body, in.fields)
		default:
			body := map[string][]string{}
			c.Context().PostArgs().VisitAll(func(k, v []byte) {
				collect(body, string(k), string(v))
			})
			flatten(body, in.fields)
		}
	}

	return in, in.takeReserved()
}

func reservedString(fields dispatch.Fields, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", nil
	}
	delete(fields, key)
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a single value", key)
	}
	return strings.TrimSpace(s), nil
}

// takeReserved strips the reserved parameters out of the field map.
func (in *commandInput) takeReserved() error {
	actAs, err := reservedString(in.fields, paramActAs)
	if err != nil {
		return err
	}
	in.actAs = actAs

	format, err := reservedString(in.fields, paramFormat)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "", formatJSON:
		in.format = formatJSON
	case formatYAML:
		in.format = formatYAML
	default:
		return fmt.Errorf("unsupported format %q (possible values: json, yaml)", format)
	}

	returnData, err := reservedString(in.fields, paramReturnData)
	if err != nil {
		return err
	}
	switch strings.ToLower(returnData) {
	case "false", "0", "no":
		in.withData = false
	}
	return nil
}

func inputError(err error) dispatch.Response {
	return dispatch.Response{
		StatusCode: fiber.StatusBadRequest,
		Result:     dispatch.ResultBadRequest,
		Message:    "Invalid request: " + err.Error(),
	}
}

func unknownUser() dispatch.Response {
	return dispatch.Response{
		StatusCode: fiber.StatusBadRequest,
		Result:     dispatch.ResultBadRequest,
		Message:    "Unknown user",
	}
}

func internalError(err error) dispatch.Response {
	appErr := models.AsAppError(err)
	return dispatch.Response{
		StatusCode: fiber.StatusInternalServerError,
		Result:     dispatch.ResultInternalError,
		Message:    appErr.Message,
	}
}
