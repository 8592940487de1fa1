package server

import (
	"github.com/gofiber/fiber/v2"
)

// HandleCommand runs one registry command for the resolved caller.
// @Summary Run a registry command
// @Description Submit, poll or cancel copy and deletion requests. Fields come from the query string, a form body or a JSON object body.
// @Tags registry
// @Accept json,x-www-form-urlencoded
// @Produce json,yaml
// @Param command path string true "copy, delete, pollcopy, polldeletion, cancelcopy or canceldeletion"
// @Param request_id query int false "Request id"
// @Param item query string false "Comma-separated item names"
// @Param site query string false "Target site, may contain * for copies"
// @Param group query string false "Copy group"
// @Param n query int false "Number of copies for wildcard sites"
// @Param as_user query string false "Act on behalf of another user (authorized callers only)"
// @Param format query string false "json or yaml"
// @Param return_data query string false "false, 0 or no suppresses the payload"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Failure 500 {object} envelope
// @Router /registry/request/{command} [get]
// @Router /registry/request/{command} [post]
func (s *Server) HandleCommand(c *fiber.Ctx) error {
	in, caller := requestState(c)
	resp := s.dispatcher.Dispatch(c.UserContext(), c.Params("command"), in.fields, caller)
	return respond(c, in, resp)
}

// ListRequests lists every user's requests of one family.
// @Summary List requests across users
// @Description Operator view. Statuses default to the live set and item uses containment matching.
// @Tags registry
// @Produce json,yaml
// @Param family path string true "copy or deletion"
// @Param status query string false "Comma-separated statuses"
// @Param site query string false "Exact site"
// @Param item query string false "Comma-separated items the request must contain"
// @Success 200 {object} envelope
// @Failure 400 {object} envelope
// @Router /registry/requests/{family} [get]
func (s *Server) ListRequests(c *fiber.Ctx) error {
	in, caller := requestState(c)
	resp := s.dispatcher.List(c.UserContext(), c.Params("family"), in.fields, caller)
	return respond(c, in, resp)
}
