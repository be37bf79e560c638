package utils

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateStruct validates a struct using validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return nil
}

// IsValidUUID checks if a string is a valid UUID
func IsValidUUID(uuid string) bool {
	r := regexp.MustCompile("^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$")
	return r.MatchString(uuid)
}

// ValidateEventType checks the dotted event-type form, e.g.
// "app.events.order.created".
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	matched, _ := regexp.MatchString(`^[a-z0-9_-]+(\.[a-z0-9_-]+)+$`, eventType)
	if !matched {
		return fmt.Errorf("event type %q is not a dotted lowercase identifier", eventType)
	}
	return nil
}

// SchemaValidator checks an event payload against the schema named by its
// dataschema field, returning human-readable violations. A nil validator
// accepts everything.
type SchemaValidator func(schemaRef string, payload map[string]interface{}) []string
