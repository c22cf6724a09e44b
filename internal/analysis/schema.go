package analysis

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaText string
)

// AnswerSchema returns the JSON Schema of the expected model answer.
func AnswerSchema() string {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties:  true,
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
		}
		schema := reflector.Reflect(&Assessment{})
		schema.ID = ""
		schema.Version = ""
		b, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			panic(fmt.Sprintf("marshal answer schema: %v", err))
		}
		schemaText = string(b)
	})
	return schemaText
}

// repairInstruction is appended to the original prompt after an unusable
// answer.
func repairInstruction(cause error) string {
	return fmt.Sprintf("\n\nYour previous response could not be used (%s). "+
		"Respond again with exactly one JSON object matching this JSON Schema and no other text:\n%s",
		clip(cause.Error(), 200), AnswerSchema())
}
