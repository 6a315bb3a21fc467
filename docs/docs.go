// Package docs registers the OpenAPI document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "http://github.com/Kamar-Folarin"
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
        "/sync/status": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Get sync status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SyncStatus"}}
                }
            }
        },
        "/sync": {
            "post": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Trigger a sync",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/api.SyncStartedResponse"}},
                    "409": {"description": "A sync is already running", "schema": {"$ref": "#/definitions/api.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/summaries": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["history"],
                "summary": "List run summaries",
                "parameters": [
                    {"type": "integer", "default": 25, "description": "Number of summaries to return (max 100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.SummaryListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/summaries/{id}": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["history"],
                "summary": "Get a run summary",
                "parameters": [
                    {"type": "string", "description": "Summary ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.RunSummary"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/upserts": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["history"],
                "summary": "List recorded upserts",
                "parameters": [
                    {"type": "string", "description": "Entity name", "name": "entity", "in": "query"},
                    {"type": "string", "description": "Natural key", "name": "key", "in": "query"},
                    {"type": "string", "description": "Only entries at or after this time (RFC3339)", "name": "since", "in": "query"},
                    {"type": "integer", "default": 100, "description": "Number of entries to return (max 500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ChangeListResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/api.ErrorResponse"}}
                }
            }
        },
        "/cursors": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Get persisted cursors",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.CursorsResponse"}}
                }
            }
        },
        "/logs": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["logs"],
                "summary": "Get buffered log entries",
                "parameters": [
                    {"type": "integer", "default": 200, "description": "Number of entries to return (max 500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.LogListResponse"}}
                }
            }
        },
        "/logs/stream": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["text/event-stream"],
                "tags": ["logs"],
                "summary": "Stream log entries",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/timers": {
            "get": {
                "security": [{"BasicAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Get upcoming timers",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.TimersResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "Failed to process request"},
                "started_at": {"type": "string", "example": "2024-05-01T09:00:00Z"}
            }
        },
        "api.SyncStartedResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "started"}}
        },
        "api.SummaryListResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/models.RunSummary"}},
                "limit": {"type": "integer", "example": 25}
            }
        },
        "api.ChangeListResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/models.ChangeRecord"}},
                "limit": {"type": "integer", "example": 100}
            }
        },
        "api.CursorsResponse": {
            "type": "object",
            "properties": {"data": {"type": "object"}}
        },
        "api.LogListResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/logstream.Entry"}},
                "limit": {"type": "integer", "example": 200}
            }
        },
        "api.TimersResponse": {
            "type": "object",
            "properties": {
                "now": {"type": "string"},
                "next_cron": {"type": "string"},
                "next_full_refresh": {"type": "string"},
                "in_progress": {"type": "boolean"}
            }
        },
        "logstream.Entry": {
            "type": "object",
            "properties": {
                "time": {"type": "string"},
                "level": {"type": "string"},
                "message": {"type": "string"},
                "fields": {"type": "object"}
            }
        },
        "models.ChangeRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "entity": {"type": "string"},
                "key": {"type": "string"},
                "op": {"type": "string", "enum": ["insert", "update"]},
                "run_tag": {"type": "string"},
                "changed_fields": {"type": "array", "items": {"type": "string"}},
                "changes": {"type": "object"},
                "created_at": {"type": "string"}
            }
        },
        "models.EntityOutcome": {
            "type": "object",
            "properties": {
                "entity": {"type": "string"},
                "strategy": {"type": "string"},
                "pages": {"type": "integer"},
                "fetched": {"type": "integer"},
                "upserted": {"type": "integer"},
                "total": {"type": "integer"},
                "soft_deleted": {"type": "integer"},
                "stopped_reason": {"type": "string"},
                "complete": {"type": "boolean"},
                "full_refresh": {"type": "boolean"},
                "count_mismatch": {"type": "boolean"},
                "duration_ms": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "models.PageProgress": {
            "type": "object",
            "properties": {
                "entity": {"type": "string"},
                "page": {"type": "integer"},
                "total_items": {"type": "integer"},
                "processed_items": {"type": "integer"},
                "last_key": {"type": "string"},
                "start_time": {"type": "string"},
                "last_update_time": {"type": "string"},
                "errors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "models.RunSummary": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "run_tag": {"type": "string"},
                "start": {"type": "string"},
                "end": {"type": "string"},
                "duration_ms": {"type": "integer"},
                "success": {"type": "boolean"},
                "error": {"type": "string"},
                "full_refresh": {"type": "boolean"},
                "entities": {"type": "array", "items": {"$ref": "#/definitions/models.EntityOutcome"}}
            }
        },
        "models.SyncStatus": {
            "type": "object",
            "properties": {
                "last_summary": {"$ref": "#/definitions/models.RunSummary"},
                "in_progress": {"type": "boolean"},
                "started_at": {"type": "string"},
                "current_page": {"$ref": "#/definitions/models.PageProgress"},
                "next_cron": {"type": "string"},
                "next_full_refresh": {"type": "string"},
                "total_runs": {"type": "integer"},
                "total_failures": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BasicAuth": {"type": "basic"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "KashFlow Sync API",
	Description:      "Dashboard and control API for the KashFlow replication service",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
