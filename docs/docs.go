// Package docs holds the generated swagger spec. Code generated by swag init; DO NOT EDIT.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "npud maintainers"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/tasks": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Submit an inference task",
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/tasks/{id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get task status",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "summary": "Cancel a task",
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/devices": {
            "get": {
                "produces": ["application/json"],
                "summary": "List registered devices",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "summary": "Aggregate usage statistics",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/models": {
            "get": {
                "produces": ["application/json"],
                "summary": "List the model catalog",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "npud API",
	Description:      "HTTP API for accelerator task scheduling and resource allocation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
