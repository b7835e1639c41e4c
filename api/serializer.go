package api

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/sogeor/flow/domain"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

var errInvalidBody = domain.Invalid("body", "Invalid request body")

// JSONSerializer is an echo.JSONSerializer backed by sonic. Request bodies
// are decoded strictly: unknown fields are rejected.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i any) error {
	return decodeBody(c.Request(), i)
}

func decodeBody(req *http.Request, dst any) error {
	if req.Body == nil {
		return errInvalidBody
	}
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}

// bind decodes the body into dst and runs the registered validator.
func bind(c echo.Context, dst any) error {
	if err := decodeBody(c.Request(), dst); err != nil {
		return err
	}
	return c.Validate(dst)
}
