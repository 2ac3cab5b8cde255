package testutil

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOpenAPIValidator_EmbeddedSpec(t *testing.T) {
	v := NewOpenAPIValidator(t)

	req := httptest.NewRequest("GET", "/api/v1/incidents/INC-1/audit", nil)
	input, err := v.input(req)
	require.NoError(t, err)
	assert.Equal(t, "INC-1", input.PathParams["id"])

	_, err = v.input(httptest.NewRequest("DELETE", "/api/v1/incidents/INC-1", nil))
	assert.Error(t, err)
}

func TestLoadOpenAPIValidator_Invalid(t *testing.T) {
	_, err := LoadOpenAPIValidator([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestBearerPresent(t *testing.T) {
	scheme := &openapi3.SecurityScheme{Type: "http", Scheme: "bearer"}

	check := func(header string) error {
		req := httptest.NewRequest("POST", "/agent/report", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return bearerPresent(context.Background(), &openapi3filter.AuthenticationInput{
			RequestValidationInput: &openapi3filter.RequestValidationInput{Request: req},
			SecurityScheme:         scheme,
		})
	}

	assert.NoError(t, check("Bearer abc"))
	assert.NoError(t, check("bearer abc"))
	assert.ErrorIs(t, check(""), errNoBearer)
	assert.ErrorIs(t, check("Basic abc"), errNoBearer)
	assert.ErrorIs(t, check("Bearer "), errNoBearer)
}
