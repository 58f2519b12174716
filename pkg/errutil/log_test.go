// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package errutil_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/accountd/accountd/pkg/errutil"
)

func TestLogError_OopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("SOME_CODE").With("key", "value").Errorf("it broke")
	errutil.LogError(logger, "operation failed", err)

	out := buf.String()
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "SOME_CODE")
	assert.Contains(t, out, "value")
}

func TestLogError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("plain"))

	out := buf.String()
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "plain")
}
