package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/transport"
)

// OpenAPIValidator rejects requests that do not match the API contract.
// Routes the contract does not describe pass through untouched. Security
// schemes are enforced by the auth middleware, not here.
func OpenAPIValidator(spec []byte, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	// match on path only, whatever host the service is reached through
	doc.Servers = nil

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	base := transport.NewBaseHandler(logger)
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		MultiError:         true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				base.HandleServiceError(w, contractError(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func contractError(err error) *internal.AppError {
	var details []internal.ValidationError
	collect := func(e error) {
		field := ""
		if re, ok := e.(*openapi3filter.RequestError); ok {
			if re.Parameter != nil {
				field = re.Parameter.Name
			} else if re.RequestBody != nil {
				field = "body"
			}
		}
		details = append(details, internal.ValidationError{
			Field:   field,
			Message: e.Error(),
			Code:    string(internal.ErrCodeValidationFailed),
		})
	}

	if multi, ok := err.(openapi3.MultiError); ok {
		for _, e := range multi {
			collect(e)
		}
	} else {
		collect(err)
	}

	return internal.NewValidationError("request does not match the API contract", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: details})
}
