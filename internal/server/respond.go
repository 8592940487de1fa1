package server

import (
	"registry/internal/dispatch"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"
)

// envelope is the body of every registry response.
type envelope struct {
	Result  string      `json:"result" yaml:"result"`
	Message string      `json:"message" yaml:"message"`
	Data    interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// respond writes resp in the requested format. Data is dropped when the
// caller asked for no payload.
func respond(c *fiber.Ctx, in *commandInput, resp dispatch.Response) error {
	env := envelope{Result: resp.Result, Message: resp.Message}
	if in.withData {
		env.Data = resp.Data
	}

	c.Status(resp.StatusCode)
	if in.format == formatYAML {
		out, err := yaml.Marshal(env)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(out)
	}
	return c.JSON(env)
}
