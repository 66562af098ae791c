// Copyright (c) 2026 Tidebase. All rights reserved.

package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidebase/tidebase/internal/platform/middleware"
)

/*
TestStripTenantPrefix verifies that an optional leading tenant segment is
removed from query surface paths while other paths pass through untouched.
*/
func TestStripTenantPrefix(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "tenant prefix removed", path: "/acme/rest/v1/users", want: "/rest/v1/users"},
		{name: "tenant prefix on surface root", path: "/acme/rest/v1", want: "/rest/v1"},
		{name: "rooted path untouched", path: "/rest/v1/users", want: "/rest/v1/users"},
		{name: "health probe untouched", path: "/health", want: "/health"},
		{name: "unrelated nested path untouched", path: "/foo/bar/baz", want: "/foo/bar/baz"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			next := http.HandlerFunc(func(_ http.ResponseWriter, request *http.Request) {
				seen = request.URL.Path
			})

			handler := middleware.StripTenantPrefix()(next)
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

			assert.Equal(t, tc.want, seen)
		})
	}
}
