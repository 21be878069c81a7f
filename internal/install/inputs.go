// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package install

import (
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"regexp"
	"strconv"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// CollectInputs validates the supplied values against the installer's typed
// form, applying defaults, and returns the effective value set. Validation
// aborts on the first irrecoverable failure.
func CollectInputs(fields []model.InputField, supplied model.InputValues) (model.InputValues, error) {
	effective := model.InputValues{}

	for _, field := range fields {
		value, present := supplied[field.FieldID]
		if !present || value == nil {
			if field.Default != nil {
				effective[field.FieldID] = field.Default
				value = field.Default
				present = true
			}
		} else {
			effective[field.FieldID] = value
		}

		for _, validator := range field.Validators {
			if err := applyValidator(field, validator, value, present); err != nil {
				return nil, err
			}
		}

		if present {
			if err := checkKind(field, value); err != nil {
				return nil, err
			}
		}
	}

	return effective, nil
}

func invalid(field model.InputField, format string, args ...interface{}) error {
	return model.NewError(model.ErrInvalidInput, "field %s: %s", field.FieldID, fmt.Sprintf(format, args...))
}

func applyValidator(field model.InputField, validator model.Validator, value interface{}, present bool) error {
	switch validator.Kind {
	case model.ValidateRequired:
		if !present || value == nil || value == "" {
			return invalid(field, "required")
		}

	case model.ValidateBounds:
		if !present {
			return nil
		}
		number, err := asNumber(value)
		if err != nil {
			return invalid(field, "not a number")
		}
		if validator.Min != nil && number < *validator.Min {
			return invalid(field, "below minimum %v", *validator.Min)
		}
		if validator.Max != nil && number > *validator.Max {
			return invalid(field, "above maximum %v", *validator.Max)
		}

	case model.ValidateRegex:
		if !present {
			return nil
		}
		text, ok := value.(string)
		if !ok {
			return invalid(field, "not a string")
		}
		matched, err := regexp.MatchString(validator.Pattern, text)
		if err != nil {
			return model.WrapError(model.ErrInternal, err, "bad validator pattern for %s", field.FieldID)
		}
		if !matched {
			return invalid(field, "does not match %s", validator.Pattern)
		}

	case model.ValidateEmail:
		if !present {
			return nil
		}
		text, _ := value.(string)
		if _, err := mail.ParseAddress(text); err != nil {
			return invalid(field, "not a valid email address")
		}

	case model.ValidateURL:
		if !present {
			return nil
		}
		text, _ := value.(string)
		parsed, err := url.Parse(text)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return invalid(field, "not a valid url")
		}

	case model.ValidateFileExists:
		if !present {
			return nil
		}
		text, _ := value.(string)
		info, err := os.Stat(text)
		if err != nil || info.IsDir() {
			return invalid(field, "file does not exist")
		}

	case model.ValidateDirExists:
		if !present {
			return nil
		}
		text, _ := value.(string)
		info, err := os.Stat(text)
		if err != nil || !info.IsDir() {
			return invalid(field, "directory does not exist")
		}
	}

	return nil
}

func checkKind(field model.InputField, value interface{}) error {
	switch field.Kind {
	case model.InputNumber, model.InputRange:
		if _, err := asNumber(value); err != nil {
			return invalid(field, "expected a number")
		}
	case model.InputBool:
		if _, ok := value.(bool); !ok {
			return invalid(field, "expected a boolean")
		}
	case model.InputSelect:
		text, ok := value.(string)
		if !ok {
			return invalid(field, "expected a string")
		}
		if len(field.Options) > 0 && !contains(field.Options, text) {
			return invalid(field, "%q is not one of the options", text)
		}
	case model.InputMultiselect:
		values, ok := value.([]interface{})
		if !ok {
			return invalid(field, "expected a list")
		}
		for _, v := range values {
			text, ok := v.(string)
			if !ok {
				return invalid(field, "expected a list of strings")
			}
			if len(field.Options) > 0 && !contains(field.Options, text) {
				return invalid(field, "%q is not one of the options", text)
			}
		}
	}

	return nil
}

func asNumber(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		if n, ok := value.(interface{ Float64() (float64, error) }); ok {
			return n.Float64()
		}
		return 0, fmt.Errorf("not a number")
	}
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
