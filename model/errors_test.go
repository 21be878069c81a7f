// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorKindThroughWrapChain(t *testing.T) {
	base := NewError(ErrNotFound, "app %s not found", "demo")
	wrapped := errors.Wrap(base, "loading state")

	assert.Equal(t, ErrNotFound, ErrorKind(wrapped))
	assert.True(t, IsKind(wrapped, ErrNotFound))
	assert.False(t, IsKind(wrapped, ErrTimeout))
}

func TestErrorKindDefaultsToInternal(t *testing.T) {
	assert.Equal(t, ErrInternal, ErrorKind(errors.New("plain")))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(ErrExternalFailure, cause, "tunnel died")

	assert.Equal(t, cause, errors.Cause(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestExitCodeMapping(t *testing.T) {
	testCases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{NewError(ErrInvalidInput, "bad"), 2},
		{NewError(ErrNotFound, "missing"), 3},
		{NewError(ErrConflict, "busy"), 4},
		{NewError(ErrAlreadyExists, "dup"), 4},
		{NewError(ErrPrecondition, "not ready"), 5},
		{NewError(ErrTimeout, "slow"), 6},
		{NewError(ErrInternal, "bug"), 1},
		{errors.New("plain"), 1},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.code, ExitCode(tc.err))
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, 404, HTTPStatus(NewError(ErrNotFound, "missing")))
	assert.Equal(t, 409, HTTPStatus(NewError(ErrConflict, "busy")))
	assert.Equal(t, 412, HTTPStatus(NewError(ErrPrecondition, "not ready")))
	assert.Equal(t, 500, HTTPStatus(errors.New("plain")))
}
