// Package api carries the OpenAPI contract so the binary can serve and
// enforce it without reading from the working directory.
package api

import _ "embed"

//go:embed openapi.yml
var OpenAPISpec []byte
