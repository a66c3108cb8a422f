package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	v *validator.Validate

	// Bar number: 3–40 chars, alphanumerics plus space, dash, slash.
	reBarNum = regexp.MustCompile(`^[A-Za-z0-9 /-]{3,40}$`)
	// Badge number: 3–20 alphanumerics, optional dash.
	reBadge = regexp.MustCompile(`^[A-Za-z0-9-]{3,20}$`)
	// Station code, e.g. "DL-ND-04".
	reStation = regexp.MustCompile(`^[A-Z0-9-]{2,12}$`)
	// Loose international phone: digits with optional +, spaces, dashes.
	rePhone = regexp.MustCompile(`^\+?[0-9][0-9 \-]{7,14}$`)
)

func init() {
	v = validator.New()

	// Use JSON tag as the field name in error output
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Custom: bar registration number
	_ = v.RegisterValidation("barnum", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(fl.Field().String())
		if val == "" { // let omitempty handle empty
			return true
		}
		return reBarNum.MatchString(val)
	})

	// Custom: police badge number
	_ = v.RegisterValidation("badge", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(fl.Field().String())
		if val == "" {
			return true
		}
		return reBadge.MatchString(val)
	})

	// Custom: police station code
	_ = v.RegisterValidation("station", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(strings.ToUpper(fl.Field().String()))
		if val == "" {
			return true
		}
		return reStation.MatchString(val)
	})

	// Custom: phone number
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		val := strings.TrimSpace(fl.Field().String())
		if val == "" {
			return true
		}
		return rePhone.MatchString(val)
	})
}

// Validate returns map[field][]messages (Laravel-like)
func Validate(s any) (map[string][]string, error) {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, err
		}
		out := make(map[string][]string)
		for _, e := range ve {
			field := e.Field() // already mapped from json tag

			switch e.Tag() {
			case "required":
				out[field] = append(out[field], "This field is required")

			case "email":
				out[field] = append(out[field], "Invalid email format")

			case "min":
				if e.Kind() == reflect.String {
					out[field] = append(out[field], fmt.Sprintf("Must be at least %s characters", e.Param()))
				} else {
					out[field] = append(out[field], fmt.Sprintf("Must be at least %s", e.Param()))
				}

			case "max":
				if e.Kind() == reflect.String {
					out[field] = append(out[field], fmt.Sprintf("Must be at most %s characters", e.Param()))
				} else {
					out[field] = append(out[field], fmt.Sprintf("Must be at most %s", e.Param()))
				}

			case "oneof":
				out[field] = append(out[field], "Value is not allowed")

			case "uuid", "uuid4":
				out[field] = append(out[field], "Invalid UUID format")

			case "gt":
				out[field] = append(out[field], fmt.Sprintf("Must be greater than %s", e.Param()))

			case "gte":
				if e.Kind() == reflect.String {
					out[field] = append(out[field], fmt.Sprintf("Must be at least %s characters", e.Param()))
				} else {
					out[field] = append(out[field], fmt.Sprintf("Must be greater than or equal to %s", e.Param()))
				}

			case "lte":
				if e.Kind() == reflect.String {
					out[field] = append(out[field], fmt.Sprintf("Must be at most %s characters", e.Param()))
				} else {
					out[field] = append(out[field], fmt.Sprintf("Must be less than or equal to %s", e.Param()))
				}

			case "barnum":
				out[field] = append(out[field], "Invalid bar registration number format")

			case "badge":
				out[field] = append(out[field], "Invalid badge number format")

			case "station":
				out[field] = append(out[field], "Invalid station code format")

			case "phone":
				out[field] = append(out[field], "Invalid phone number format")

			case "latitude":
				out[field] = append(out[field], "Invalid latitude")

			case "longitude":
				out[field] = append(out[field], "Invalid longitude")

			default:
				// Fallback to original error text if we missed a tag
				out[field] = append(out[field], e.Error())
			}
		}
		return out, nil
	}
	return nil, nil
}
