package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newCountingServer(t *testing.T, status int, body any) (*httptest.Server, *int64) {
	t.Helper()
	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		atomic.AddInt64(&requests, 1)
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(writer).Encode(body)
		} else {
			_, _ = writer.Write([]byte("{}"))
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func newTestGateway(t *testing.T, baseURL string) *HTTPGateway {
	t.Helper()
	gateway, err := NewHTTPGateway(HTTPGatewayConfig{BaseURL: baseURL})
	if err != nil {
		t.Fatalf("unexpected gateway error: %v", err)
	}
	return gateway
}

func TestUpdateUserRejectsShortPasswordWithoutRequest(t *testing.T) {
	server, requests := newCountingServer(t, http.StatusOK, nil)
	gateway := newTestGateway(t, server.URL)

	short := "abc"
	err := gateway.UpdateUser(context.Background(), UserUpdate{Password: &short})

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Field != "password" {
		t.Fatalf("expected password field, got %q", validation.Field)
	}
	if got := atomic.LoadInt64(requests); got != 0 {
		t.Fatalf("expected no request for a locally rejected password, got %d", got)
	}
}

func TestSignUpRejectsShortPasswordWithoutRequest(t *testing.T) {
	server, requests := newCountingServer(t, http.StatusOK, nil)
	gateway := newTestGateway(t, server.URL)

	_, err := gateway.SignUp(context.Background(), "person@example.com", "abc", "person")

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := atomic.LoadInt64(requests); got != 0 {
		t.Fatalf("expected no request, got %d", got)
	}
}

func TestSignInStoresAccessToken(t *testing.T) {
	server, _ := newCountingServer(t, http.StatusOK, Grant{
		UserID:      "u-1",
		Email:       "person@example.com",
		AccessToken: "token-123",
		ExpiresIn:   3600,
	})
	gateway := newTestGateway(t, server.URL)

	grant, err := gateway.SignIn(context.Background(), "person@example.com", "secret1")
	if err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}
	if grant.UserID != "u-1" {
		t.Fatalf("unexpected user id %q", grant.UserID)
	}
	if gateway.AccessToken() != "token-123" {
		t.Fatalf("expected stored token, got %q", gateway.AccessToken())
	}
}

func TestSignOutClearsAccessToken(t *testing.T) {
	server, _ := newCountingServer(t, http.StatusOK, map[string]string{"status": "signed_out"})
	gateway := newTestGateway(t, server.URL)
	gateway.SetAccessToken("token-123")

	if err := gateway.SignOut(context.Background(), SignOutLocal); err != nil {
		t.Fatalf("unexpected sign-out error: %v", err)
	}
	if gateway.AccessToken() != "" {
		t.Fatalf("expected token to be cleared, got %q", gateway.AccessToken())
	}
}

func TestStatusCodesMapToErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"bad request", http.StatusBadRequest, func(err error) bool {
			var target *ValidationError
			return errors.As(err, &target)
		}},
		{"conflict", http.StatusConflict, func(err error) bool {
			var target *ValidationError
			return errors.As(err, &target)
		}},
		{"unauthorized", http.StatusUnauthorized, func(err error) bool {
			var target *AuthSessionError
			return errors.As(err, &target)
		}},
		{"forbidden", http.StatusForbidden, func(err error) bool {
			var target *PermissionError
			return errors.As(err, &target)
		}},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			var target *RequestError
			return errors.As(err, &target)
		}},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			server, _ := newCountingServer(t, testCase.status, map[string]string{"error": "some.code"})
			gateway := newTestGateway(t, server.URL)

			_, err := gateway.GetSession(context.Background())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !testCase.check(err) {
				t.Fatalf("status %d mapped to wrong error kind: %v", testCase.status, err)
			}
		})
	}
}

func TestQueryPostsDecodesAndSorts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/posts" {
			http.NotFound(writer, request)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"posts":[
			{"post_id":"p-old","author_id":"u-1","content":"old","created_at":"2026-01-01T00:00:00Z"},
			{"post_id":"p-new","author_id":"u-1","content":"new","created_at":"2026-01-02T00:00:00Z"}
		]}`))
	}))
	t.Cleanup(server.Close)
	gateway := newTestGateway(t, server.URL)

	rows, err := gateway.Query(context.Background(), TablePosts, nil, OrderCreatedDescending)
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "p-new" || rows[1].ID != "p-old" {
		t.Fatalf("expected newest first, got %s then %s", rows[0].ID, rows[1].ID)
	}
	if rows[0].Content != "new" {
		t.Fatalf("unexpected content %q", rows[0].Content)
	}
}

func TestQueryCommentsRequiresPostFilter(t *testing.T) {
	server, requests := newCountingServer(t, http.StatusOK, nil)
	gateway := newTestGateway(t, server.URL)

	_, err := gateway.Query(context.Background(), TableComments, nil, OrderDefault)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := atomic.LoadInt64(requests); got != 0 {
		t.Fatalf("expected no request, got %d", got)
	}
}

func TestMutateInsertReturnsConfirmedRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != "/posts/p-1/comments" {
			http.NotFound(writer, request)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"comment_id":"c-1","post_id":"p-1","author_id":"u-1","content":"hello","created_at":"2026-01-01T00:00:00Z"}`))
	}))
	t.Cleanup(server.Close)
	gateway := newTestGateway(t, server.URL)

	row, err := gateway.Mutate(context.Background(), TableComments, OperationInsert,
		Payload{"post_id": "p-1", "content": "hello"})
	if err != nil {
		t.Fatalf("unexpected mutate error: %v", err)
	}
	if row.ID != "c-1" {
		t.Fatalf("expected confirmed identifier, got %q", row.ID)
	}
	if row.Content != "hello" {
		t.Fatalf("unexpected content %q", row.Content)
	}
}

func TestMutateDeleteFallsBackToPayloadIdentifier(t *testing.T) {
	server, _ := newCountingServer(t, http.StatusOK, map[string]string{"status": "deleted"})
	gateway := newTestGateway(t, server.URL)

	row, err := gateway.Mutate(context.Background(), TablePosts, OperationDelete, Payload{"post_id": "p-1"})
	if err != nil {
		t.Fatalf("unexpected mutate error: %v", err)
	}
	if row.ID != "p-1" {
		t.Fatalf("expected identifier from payload, got %q", row.ID)
	}
}

func TestMutateRejectsUnsupportedOperation(t *testing.T) {
	server, requests := newCountingServer(t, http.StatusOK, nil)
	gateway := newTestGateway(t, server.URL)

	_, err := gateway.Mutate(context.Background(), TableProfiles, OperationDelete, Payload{})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := atomic.LoadInt64(requests); got != 0 {
		t.Fatalf("expected no request, got %d", got)
	}
}

func TestAuthorizedRequestsCarryBearerToken(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		authorization = request.Header.Get("Authorization")
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"user_id":"u-1","profile":null}`))
	}))
	t.Cleanup(server.Close)
	gateway := newTestGateway(t, server.URL)
	gateway.SetAccessToken("token-abc")

	if _, err := gateway.GetSession(context.Background()); err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	if authorization != "Bearer token-abc" {
		t.Fatalf("unexpected authorization header %q", authorization)
	}
}
