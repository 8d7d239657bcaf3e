// Package docs registers the sketchd OpenAPI document with swag. Served by
// the Swagger UI when built with -tags=swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "sketchd maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/sketches": {
            "get": {
                "produces": ["application/json"],
                "summary": "List sketches with their current preview",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SketchesResponse"}}
                }
            }
        },
        "/status/{sketch}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Status of one sketch",
                "parameters": [{"type": "string", "name": "sketch", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SketchStatus"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/execute/{sketch}": {
            "post": {
                "produces": ["application/json"],
                "summary": "Execute a sketch now",
                "parameters": [{"type": "string", "name": "sketch", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ExecuteResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Shutting down", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/generate-thumbnail/{sketch}": {
            "post": {
                "produces": ["application/json"],
                "summary": "Generate the thumbnail for a sketch",
                "parameters": [{"type": "string", "name": "sketch", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ThumbnailResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/thumbnail-status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Thumbnail queue status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.QueueStatus"}}}
            }
        },
        "/queue-thumbnails": {
            "post": {
                "produces": ["application/json"],
                "summary": "Queue thumbnails for every sketch lacking one",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.QueueThumbnailsResponse"}}}
            }
        },
        "/cache/stats": {
            "get": {
                "produces": ["application/json"],
                "summary": "Cache statistics",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CacheStats"}}}
            }
        },
        "/live-stats": {
            "get": {
                "produces": ["application/json"],
                "summary": "Live connection and watch statistics",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.LiveStats"}}}
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}
        },
        "types.PreviewInfo": {
            "type": "object",
            "properties": {
                "version": {"type": "integer"},
                "image_url": {"type": "string"},
                "thumbnail_url": {"type": "string"},
                "size_bytes": {"type": "integer"},
                "created_at_unix": {"type": "integer"}
            }
        },
        "types.SketchInfo": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "source": {"type": "string"},
                "current": {"$ref": "#/definitions/types.PreviewInfo"}
            }
        },
        "types.SketchesResponse": {
            "type": "object",
            "properties": {"sketches": {"type": "array", "items": {"$ref": "#/definitions/types.SketchInfo"}}}
        },
        "types.SketchStatus": {"type": "object"},
        "types.ExecuteResponse": {"type": "object"},
        "types.ThumbnailResponse": {"type": "object"},
        "types.QueueStatus": {"type": "object"},
        "types.QueueThumbnailsResponse": {"type": "object"},
        "types.CacheStats": {"type": "object"},
        "types.LiveStats": {"type": "object"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "sketchd API",
	Description:      "Live preview server for sketch scripts: execution, artifact cache, thumbnails and WebSocket updates.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
