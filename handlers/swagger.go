package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the token service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>jwtsession - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "jwtsession", "version": "v0.1.0" },
  "components": {
    "schemas": {
      "Flags": {"type":"object","properties":{"rememberMe":{"type":"boolean","default":true},"jwtCookie":{"type":"boolean","default":true}}},
      "AuthOutput": {"type":"object","properties":{"success":{"type":"object","properties":{"user":{"type":"object"},"token":{"type":"object","properties":{"jwt":{"type":"string"},"jwtRefresh":{"type":"string"}}}}}}},
      "Errors": {"type":"object","properties":{"errors":{"type":"object","additionalProperties":{"type":"array","items":{"type":"string"}}}}},
      "Error": {"type":"object","properties":{"error":{"type":"string"}}}
    }
  },
  "paths": {
    "/auth/login": {
      "post": {
        "summary": "Password login",
        "requestBody": { "content": { "application/json": { "schema": {"allOf":[{"$ref":"#/components/schemas/Flags"},{"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}]}}}},
        "responses": { "200": { "description": "tokens issued" }, "422": { "description": "validation errors" } }
      }
    },
    "/auth/login/id-token": {
      "post": { "summary": "Federated login with an OpenID ID token", "responses": { "200": { "description": "tokens issued" }, "401": { "description": "invalid id token" }, "501": { "description": "federation not configured" } } }
    },
    "/auth/register": {
      "post": { "summary": "Create an account and sign in", "responses": { "200": { "description": "tokens issued" }, "422": { "description": "validation errors" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Clear cookies and revoke presented tokens", "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/renew-token": {
      "get": { "summary": "Sliding renewal, falling back to the refresh token", "responses": { "200": { "description": "new access token" }, "401": { "description": "Invalid token" } } },
      "post": { "summary": "Sliding renewal, falling back to the refresh token", "responses": { "200": { "description": "new access token" }, "401": { "description": "Invalid token" } } }
    },
    "/auth/request-refresh-token": {
      "post": { "summary": "Mint a refresh token for a valid access token", "responses": { "200": { "description": "refresh token" }, "401": { "description": "Invalid token" } } }
    },
    "/auth/remove-refresh-token": {
      "post": { "summary": "Clear and revoke the refresh token", "responses": { "200": { "description": "removed" } } }
    },
    "/auth/use-refresh-token": {
      "get": { "summary": "Exchange a refresh token for an access token", "responses": { "200": { "description": "new access token" }, "401": { "description": "Invalid token" } } },
      "post": { "summary": "Exchange a refresh token for an access token", "responses": { "200": { "description": "new access token" }, "401": { "description": "Invalid token" } } }
    },
    "/auth/revoke-refresh-tokens": {
      "post": { "summary": "Invalidate every refresh token of the caller", "responses": { "200": { "description": "new epoch" }, "401": { "description": "Invalid token" }, "501": { "description": "no revocation store" } } }
    },
    "/auth/user": {
      "get": { "summary": "Current user", "responses": { "200": { "description": "user" }, "401": { "description": "Invalid token" } } }
    },
    "/api/v1/me": {
      "get": { "summary": "Get user info from the access token", "responses": { "200": { "description": "claims" }, "401": { "description": "Invalid token or Token expired" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
