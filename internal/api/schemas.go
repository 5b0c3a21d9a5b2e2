package api

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"badgeup.io/relay/internal/protocol"
)

const pageSchemaJSON = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {"type": "array"},
    "pages": {
      "type": ["object", "null"],
      "properties": {"next": {"type": ["string", "null"]}}
    }
  }
}`

const progressPageSchemaJSON = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["achievementId", "percentComplete"],
        "properties": {
          "achievementId": {"type": "string", "minLength": 1},
          "percentComplete": {"type": "number"}
        }
      }
    },
    "pages": {
      "type": ["object", "null"],
      "properties": {"next": {"type": ["string", "null"]}}
    }
  }
}`

const achievementSchemaJSON = `{
  "type": "object",
  "required": ["id", "name"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "description": {"type": ["string", "null"]}
  }
}`

var (
	pageSchema         = jsonschema.MustCompileString("page.schema.json", pageSchemaJSON)
	progressPageSchema = jsonschema.MustCompileString("progress_page.schema.json", progressPageSchemaJSON)
	achievementSchema  = jsonschema.MustCompileString("achievement.schema.json", achievementSchemaJSON)
)

func validateDoc(s *jsonschema.Schema, b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return protocol.Wrap(protocol.ErrMalformedValue, "body", err)
	}
	if err := s.Validate(v); err != nil {
		return protocol.Wrap(protocol.ErrMalformedValue, "body", err)
	}
	return nil
}
