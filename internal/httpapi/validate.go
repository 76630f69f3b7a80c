package httpapi

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ryanelian/mitsu/internal/domain"
)

// pricingQuery is the validated shape of GET /pricing's query parameters.
// go-playground/validator's oneof tag enforces the bounded enumerations
// spec.md §1 describes; this is the "external validator" spec.md §7 names
// as producing ValidationError, deliberately kept separate from C5/C7's
// own logic.
type pricingQuery struct {
	Period string `form:"period" validate:"required,oneof=Summer Autumn Winter Spring"`
	Hotel  string `form:"hotel" validate:"required,oneof=FloatingPointResort NullPointerInn SegfaultSuites"`
	Room   string `form:"room" validate:"required,oneof=SingletonRoom RecursiveSuite AtomicCabin"`
}

var fieldMessages = map[string]string{
	"Period": "The period field must be one of: " + strings.Join(domain.Periods, ", ") + ".",
	"Hotel":  "The hotel field must be one of: " + strings.Join(domain.Hotels, ", ") + ".",
	"Room":   "The room field must be one of: " + strings.Join(domain.Rooms, ", ") + ".",
}

var validate = validator.New()

// validatePricingQuery validates q and, on failure, returns a field-name ->
// messages map in the shape RFC 7807's errors member expects (lower-cased,
// query-parameter field names rather than Go struct field names).
func validatePricingQuery(q pricingQuery) map[string][]string {
	err := validate.Struct(q)
	if err == nil {
		return nil
	}

	out := make(map[string][]string)
	for _, fe := range err.(validator.ValidationErrors) {
		queryField := strings.ToLower(fe.StructField())
		msg := fieldMessages[fe.StructField()]
		if msg == "" {
			msg = fe.Error()
		}
		out[queryField] = append(out[queryField], msg)
	}
	return out
}
