// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package install

import (
	"strings"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// Scope is the lexical substitution environment exposed to installer steps:
// platform, gpu, cwd, timestamp, args.*, local.*, env.*, and
// cloud.base_path. The install engine sets no port key, so {{port}} resolves
// only through an inline default.
type Scope map[string]string

// Substitute replaces every {{key}} occurrence with its scope value. An
// inline default may follow a pipe: {{key|fallback}}. A missing key with no
// default fails the step.
func Substitute(input string, scope Scope) (string, error) {
	var out strings.Builder
	rest := input

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end += start

		out.WriteString(rest[:start])
		token := strings.TrimSpace(rest[start+2 : end])
		rest = rest[end+2:]

		key := token
		fallback := ""
		hasFallback := false
		if idx := strings.Index(token, "|"); idx >= 0 {
			key = strings.TrimSpace(token[:idx])
			fallback = strings.TrimSpace(token[idx+1:])
			hasFallback = true
		}

		value, ok := scope[key]
		if !ok {
			if !hasFallback {
				return "", model.NewError(model.ErrInvalidInput, "unknown substitution key %q", key)
			}
			value = fallback
		}
		out.WriteString(value)
	}
}

// SubstituteAll applies Substitute to every element.
func SubstituteAll(inputs []string, scope Scope) ([]string, error) {
	out := make([]string, 0, len(inputs))
	for _, input := range inputs {
		substituted, err := Substitute(input, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, substituted)
	}
	return out, nil
}
