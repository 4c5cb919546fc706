// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package dberr_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-reader/internal/platform/apperr"
	"github.com/taibuivan/yomira-reader/internal/platform/dberr"
)

/*
TestWrap classifies pgx errors into client-safe application errors.
*/
func TestWrap(t *testing.T) {
	assert.NoError(t, dberr.Wrap(nil, "Book", "find book"))

	// 1. Missing rows become NOT_FOUND for the named resource
	notFound := apperr.As(dberr.Wrap(pgx.ErrNoRows, "Book", "find book"))
	require.NotNil(t, notFound)
	assert.Equal(t, http.StatusNotFound, notFound.HTTPStatus)
	assert.Equal(t, "Book not found", notFound.Message)

	// 2. Anything else is internal, with the cause preserved for logs
	boom := errors.New("connection reset")
	internal := apperr.As(dberr.Wrap(boom, "Book", "find book"))
	require.NotNil(t, internal)
	assert.Equal(t, http.StatusInternalServerError, internal.HTTPStatus)
	assert.ErrorIs(t, internal, boom)
}
