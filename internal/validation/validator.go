package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the custom tags and struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report json field names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("notblank", notBlank)

	// course ids must be non-blank and distinct
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func notBlank(fl validatorv10.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]struct{}, len(req.CourseIDs))
	for _, id := range req.CourseIDs {
		if strings.TrimSpace(id) == "" {
			sl.ReportError(req.CourseIDs, "course_ids", "CourseIDs", "notblank", "")
			return
		}
		if _, dup := seen[id]; dup {
			sl.ReportError(req.CourseIDs, "course_ids", "CourseIDs", "unique", id)
			return
		}
		seen[id] = struct{}{}
	}
}
