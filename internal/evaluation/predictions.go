package evaluation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/tablearena/tablearena/internal/pkg/errors"
)

// Rejection reasons attached to submission errors.
const (
	ReasonEncoding = "encoding"
	ReasonFormat   = "format"
)

const predictionsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {"type": ["string", "null"]}
}`

var predictionsSchema = mustSchema(predictionsSchemaJSON)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compiling predictions schema: %v", err))
	}
	return schema
}

// maxSchemaErrors bounds how many violations are echoed back to the caller.
const maxSchemaErrors = 5

// ParsePredictions decodes a submission file. The content must be UTF-8 (a
// leading BOM is allowed) holding a JSON object whose values are strings or
// null. null becomes an empty prediction. Failures are rejected AppErrors.
func ParsePredictions(data []byte) (Predictions, error) {
	text, err := utf8Text(data)
	if err != nil {
		return nil, apperrors.RejectedError(ReasonEncoding, "submission file is not valid UTF-8 text", err)
	}

	var doc any
	if err := json.Unmarshal(text, &doc); err != nil {
		return nil, apperrors.RejectedError(ReasonFormat, "submission file is not valid JSON", err)
	}

	res, err := predictionsSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, apperrors.RejectedError(ReasonFormat, "submission file could not be validated", err)
	}
	if !res.Valid() {
		var problems []string
		for i, e := range res.Errors() {
			if i == maxSchemaErrors {
				problems = append(problems, fmt.Sprintf("and %d more", len(res.Errors())-i))
				break
			}
			problems = append(problems, e.String())
		}
		return nil, apperrors.RejectedError(ReasonFormat,
			"submission must be a JSON object mapping table ids to strings", nil).
			WithDetail("violations", strings.Join(problems, "; "))
	}

	obj := doc.(map[string]any)
	preds := make(Predictions, len(obj))
	for id, v := range obj {
		if s, ok := v.(string); ok {
			preds[id] = s
		} else {
			preds[id] = ""
		}
	}
	return preds, nil
}
