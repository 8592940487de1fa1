// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/registry/request/{command}": {
            "get": {
                "description": "Submit, poll or cancel copy and deletion requests. Fields come from the query string, a form body or a JSON object body.",
                "produces": ["application/json", "application/yaml"],
                "tags": ["registry"],
                "summary": "Run a registry command",
                "parameters": [
                    {"type": "string", "description": "copy, delete, pollcopy, polldeletion, cancelcopy or canceldeletion", "name": "command", "in": "path", "required": true},
                    {"type": "integer", "description": "Request id", "name": "request_id", "in": "query"},
                    {"type": "string", "description": "Comma-separated item names", "name": "item", "in": "query"},
                    {"type": "string", "description": "Target site, may contain * for copies", "name": "site", "in": "query"},
                    {"type": "string", "description": "Copy group", "name": "group", "in": "query"},
                    {"type": "integer", "description": "Number of copies for wildcard sites", "name": "n", "in": "query"},
                    {"type": "string", "description": "Act on behalf of another user (authorized callers only)", "name": "as_user", "in": "query"},
                    {"type": "string", "description": "json or yaml", "name": "format", "in": "query"},
                    {"type": "string", "description": "false, 0 or no suppresses the payload", "name": "return_data", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK or EmptyResult", "schema": {"$ref": "#/definitions/server.envelope"}},
                    "400": {"description": "BadRequest", "schema": {"$ref": "#/definitions/server.envelope"}},
                    "500": {"description": "InternalError", "schema": {"$ref": "#/definitions/server.envelope"}}
                }
            },
            "post": {
                "description": "Same as GET with fields in the body.",
                "consumes": ["application/json", "application/x-www-form-urlencoded"],
                "produces": ["application/json", "application/yaml"],
                "tags": ["registry"],
                "summary": "Run a registry command",
                "parameters": [
                    {"type": "string", "description": "Command name", "name": "command", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK or EmptyResult", "schema": {"$ref": "#/definitions/server.envelope"}},
                    "400": {"description": "BadRequest", "schema": {"$ref": "#/definitions/server.envelope"}},
                    "500": {"description": "InternalError", "schema": {"$ref": "#/definitions/server.envelope"}}
                }
            }
        },
        "/registry/requests/{family}": {
            "get": {
                "description": "Operator view. Statuses default to the live set and item uses containment matching.",
                "produces": ["application/json", "application/yaml"],
                "tags": ["registry"],
                "summary": "List requests across users",
                "parameters": [
                    {"type": "string", "description": "copy or deletion", "name": "family", "in": "path", "required": true},
                    {"type": "string", "description": "Comma-separated statuses", "name": "status", "in": "query"},
                    {"type": "string", "description": "Exact site", "name": "site", "in": "query"},
                    {"type": "string", "description": "Comma-separated items the request must contain", "name": "item", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK or EmptyResult", "schema": {"$ref": "#/definitions/server.envelope"}},
                    "400": {"description": "BadRequest", "schema": {"$ref": "#/definitions/server.envelope"}}
                }
            }
        }
    },
    "definitions": {
        "server.envelope": {
            "type": "object",
            "properties": {
                "result": {"type": "string", "enum": ["OK", "EmptyResult", "BadRequest", "InternalError"]},
                "message": {"type": "string"},
                "data": {}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8375",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Request Registry API",
	Description:      "Registry of copy and deletion requests for distributed data items",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
