// Package testutil provides helpers shared by handler and integration tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/datapulse/orchestrator/api/openapi"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

const maxReportedBody = 300

// OpenAPIValidator checks traffic against the published API description.
type OpenAPIValidator struct {
	router routers.Router
}

// NewOpenAPIValidator loads the embedded API description or fails the test.
func NewOpenAPIValidator(t *testing.T) *OpenAPIValidator {
	t.Helper()

	v, err := LoadOpenAPIValidator(openapi.Spec)
	if err != nil {
		t.Fatalf("load OpenAPI validator: %v", err)
	}
	return v
}

// LoadOpenAPIValidator parses and validates an OpenAPI document.
func LoadOpenAPIValidator(spec []byte) (*OpenAPIValidator, error) {
	doc, err := openapi3.NewLoader().LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{router: router}, nil
}

// ValidateRequest reports through t where req deviates from its operation.
func (v *OpenAPIValidator) ValidateRequest(t *testing.T, req *http.Request) {
	t.Helper()

	input, err := v.input(req)
	if err != nil {
		t.Error(err)
		return
	}
	input.Options = &openapi3filter.Options{
		MultiError:         true,
		AuthenticationFunc: bearerPresent,
	}

	if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
		t.Errorf("OpenAPI request validation failed for %s %s: %v", req.Method, req.URL.Path, err)
	}
}

// ValidateResponse reports through t where resp deviates from the responses
// declared for req. The response body is restored for the caller.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	input, err := v.input(req)
	if err != nil {
		t.Error(err)
		return
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}

	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
	if err != nil {
		t.Errorf("OpenAPI response validation failed for %s %s (status %d):\n%s\nResponse body: %s",
			req.Method, req.URL.Path, resp.StatusCode, truncate(err.Error(), 2*maxReportedBody), truncate(string(body), maxReportedBody))
	}
}

func (v *OpenAPIValidator) input(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAPI: no operation for %s %s: %w", req.Method, req.URL.Path, err)
	}
	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
	}, nil
}

var errNoBearer = errors.New("no bearer token")

// bearerPresent satisfies a security requirement when the request carries a
// bearer token. Whether the token is accepted is the server's business; an
// operation that also lists an empty requirement passes without one.
func bearerPresent(_ context.Context, in *openapi3filter.AuthenticationInput) error {
	if in.SecurityScheme == nil || in.SecurityScheme.Type != "http" || !strings.EqualFold(in.SecurityScheme.Scheme, "bearer") {
		return nil
	}
	auth := in.RequestValidationInput.Request.Header.Get("Authorization")
	if len(auth) < len("Bearer ")+1 || !strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return errNoBearer
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
