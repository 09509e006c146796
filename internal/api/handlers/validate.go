package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxBodyBytes bounds request bodies. Every endpoint carries a small JSON
// document.
const maxBodyBytes = 1 << 20

// errInvalidBody marks a request body that did not parse as JSON or failed
// schema validation.
var errInvalidBody = errors.New("invalid request body")

//go:embed schemas/*.json
var schemaFS embed.FS

// Request schemas are compiled once at startup. A broken embedded schema is
// a build defect, so compilation failures panic.
var (
	createUserSchema    = mustCompileSchema("schemas/createuser.json")
	loginSchema         = mustCompileSchema("schemas/login.json")
	completeResetSchema = mustCompileSchema("schemas/completepasswordreset.json")
	settingSchema       = mustCompileSchema("schemas/setting.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("handlers: failed to read embedded schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("handlers: failed to add schema resource %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("handlers: failed to compile schema %s: %v", name, err))
	}
	return schema
}

// decodeValid reads the request body, validates it against the schema and
// decodes it into dst.
func decodeValid(r *http.Request, schema *jsonschema.Schema, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}

	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}
