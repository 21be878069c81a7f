// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

// InputKind enumerates the typed form field kinds an installer may request.
type InputKind string

const (
	InputText        InputKind = "text"
	InputNumber      InputKind = "number"
	InputBool        InputKind = "bool"
	InputSelect      InputKind = "select"
	InputMultiselect InputKind = "multiselect"
	InputFile        InputKind = "file"
	InputDir         InputKind = "dir"
	InputURL         InputKind = "url"
	InputEmail       InputKind = "email"
	InputPassword    InputKind = "password"
	InputTextarea    InputKind = "textarea"
	InputRange       InputKind = "range"
	InputDate        InputKind = "date"
	InputTime        InputKind = "time"
	InputDatetime    InputKind = "datetime"
	InputColor       InputKind = "color"
)

// ValidatorKind enumerates the supported field validators.
type ValidatorKind string

const (
	ValidateRequired   ValidatorKind = "required"
	ValidateBounds     ValidatorKind = "bounds"
	ValidateRegex      ValidatorKind = "regex"
	ValidateEmail      ValidatorKind = "email"
	ValidateURL        ValidatorKind = "url"
	ValidateFileExists ValidatorKind = "file_exists"
	ValidateDirExists  ValidatorKind = "dir_exists"
	ValidateCustom     ValidatorKind = "custom"
)

// Validator is one constraint on a field value.
type Validator struct {
	Kind    ValidatorKind `json:"kind"`
	Min     *float64      `json:"min,omitempty"`
	Max     *float64      `json:"max,omitempty"`
	Pattern string        `json:"pattern,omitempty"`
	Message string        `json:"message,omitempty"`
}

// InputField is one typed field of an installer's input form.
type InputField struct {
	FieldID    string      `json:"field_id"`
	Kind       InputKind   `json:"kind"`
	Label      string      `json:"label,omitempty"`
	Validators []Validator `json:"validators,omitempty"`
	Options    []string    `json:"options,omitempty"`
	Default    interface{} `json:"default,omitempty"`
	DependsOn  []string    `json:"depends_on,omitempty"`
}

// InputValues maps field ids to the values supplied by the operator.
type InputValues map[string]interface{}
