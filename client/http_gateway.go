package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errMissingBaseURL = errors.New("client: base url is required")

// Grant is the result of a successful authentication call.
type Grant struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// HTTPGatewayConfig describes a gateway talking to a Ripple API server.
type HTTPGatewayConfig struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	Logger      *zap.Logger
}

// HTTPGateway implements Gateway over the Ripple HTTP and websocket API.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPGateway constructs a gateway.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGateway{
		baseURL:    base,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
		token:      cfg.AccessToken,
	}, nil
}

// AccessToken returns the current bearer token.
func (g *HTTPGateway) AccessToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

// SetAccessToken replaces the bearer token used on subsequent calls.
func (g *HTTPGateway) SetAccessToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

// SignUp registers a new account and stores the returned token.
func (g *HTTPGateway) SignUp(ctx context.Context, email, password, username string) (Grant, error) {
	if err := validateEmail(email); err != nil {
		return Grant{}, err
	}
	if err := ValidateNewPassword(password); err != nil {
		return Grant{}, err
	}
	var grant Grant
	err := g.do(ctx, http.MethodPost, "/auth/signup", nil,
		map[string]string{"email": email, "password": password, "username": username}, &grant)
	if err != nil {
		return Grant{}, err
	}
	g.SetAccessToken(grant.AccessToken)
	return grant, nil
}

// SignIn authenticates and stores the returned token.
func (g *HTTPGateway) SignIn(ctx context.Context, email, password string) (Grant, error) {
	if err := validateEmail(email); err != nil {
		return Grant{}, err
	}
	var grant Grant
	err := g.do(ctx, http.MethodPost, "/auth/signin", nil,
		map[string]string{"email": email, "password": password}, &grant)
	if err != nil {
		return Grant{}, err
	}
	g.SetAccessToken(grant.AccessToken)
	return grant, nil
}

// StartRecovery asks the backend to mail a magic link for the address.
func (g *HTTPGateway) StartRecovery(ctx context.Context, email string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	return g.do(ctx, http.MethodPost, "/auth/recover", nil, map[string]string{"email": email}, nil)
}

// ConfirmRecovery redeems a magic-link token and sets the new password. The
// password policy is checked locally first, so a too-short password never
// issues a request.
func (g *HTTPGateway) ConfirmRecovery(ctx context.Context, token, newPassword string) (Grant, error) {
	if err := ValidateNewPassword(newPassword); err != nil {
		return Grant{}, err
	}
	var grant Grant
	err := g.do(ctx, http.MethodPost, "/auth/recover/confirm", nil,
		map[string]string{"token": token, "password": newPassword}, &grant)
	if err != nil {
		return Grant{}, err
	}
	g.SetAccessToken(grant.AccessToken)
	return grant, nil
}

// GetSession returns the authenticated user's session.
func (g *HTTPGateway) GetSession(ctx context.Context) (Session, error) {
	var session Session
	if err := g.do(ctx, http.MethodGet, "/auth/session", nil, nil, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// UpdateUser changes account or profile fields. A new password is validated
// locally before any request is issued.
func (g *HTTPGateway) UpdateUser(ctx context.Context, update UserUpdate) error {
	if update.Password != nil {
		if err := ValidateNewPassword(*update.Password); err != nil {
			return err
		}
	}
	return g.do(ctx, http.MethodPatch, "/auth/user", nil, update, nil)
}

// SignOut ends the session. The stored token is dropped either way; global
// scope additionally revokes every outstanding session server-side.
func (g *HTTPGateway) SignOut(ctx context.Context, scope SignOutScope) error {
	err := g.do(ctx, http.MethodPost, "/auth/signout", nil, map[string]string{"scope": string(scope)}, nil)
	if err != nil {
		return err
	}
	g.SetAccessToken("")
	return nil
}

// UploadFile stores the bytes in a bucket and returns the public URL.
func (g *HTTPGateway) UploadFile(ctx context.Context, bucket, path string, data []byte) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(path) == "" {
		return "", &ValidationError{Field: "path", Reason: "bucket and path are required"}
	}
	endpoint := fmt.Sprintf("/storage/%s/%s", url.PathEscape(bucket), strings.TrimLeft(path, "/"))

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return "", &RequestError{Err: err}
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	g.authorize(request)

	response, err := g.httpClient.Do(request)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", g.statusError(response)
	}

	var payload struct {
		PublicURL string `json:"public_url"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", &RequestError{Err: err}
	}
	return payload.PublicURL, nil
}

// Query loads rows for a table. The filter keys are table columns; see the
// route mapping in endpointFor.
func (g *HTTPGateway) Query(ctx context.Context, table string, filter Filter, order Order) ([]Row, error) {
	endpoint, query, envelopeKey, err := endpointFor(table, filter)
	if err != nil {
		return nil, err
	}

	var envelope map[string]json.RawMessage
	if err := g.do(ctx, http.MethodGet, endpoint, query, nil, &envelope); err != nil {
		return nil, err
	}

	var rawRows []json.RawMessage
	if envelopeKey == "" {
		// Single-object endpoints (profiles) come back bare.
		combined, err := json.Marshal(envelope)
		if err != nil {
			return nil, &RequestError{Err: err}
		}
		rawRows = []json.RawMessage{combined}
	} else if raw, ok := envelope[envelopeKey]; ok {
		if err := json.Unmarshal(raw, &rawRows); err != nil {
			return nil, &RequestError{Err: err}
		}
	}

	rows := make([]Row, 0, len(rawRows))
	for _, raw := range rawRows {
		row, err := DecodeRow(table, raw)
		if err != nil {
			return nil, &RequestError{Err: err}
		}
		rows = append(rows, row)
	}
	sortRows(rows, order)
	return rows, nil
}

// Mutate performs an insert, update, or delete against a table and returns
// the affected row as the server confirmed it.
func (g *HTTPGateway) Mutate(ctx context.Context, table string, op Operation, payload Payload) (Row, error) {
	method, endpoint, body, err := mutationFor(table, op, payload)
	if err != nil {
		return Row{}, err
	}

	var confirmed json.RawMessage
	if err := g.do(ctx, method, endpoint, nil, body, &confirmed); err != nil {
		return Row{}, err
	}

	row, err := DecodeRow(table, confirmed)
	if err != nil {
		// Deletes answer with a status payload rather than the row; fall back
		// to the identifier the caller supplied.
		if op == OperationDelete {
			return Row{ID: payload[tableShapes[table].idField]}, nil
		}
		return Row{}, &RequestError{Err: err}
	}
	return row, nil
}

// Subscribe opens the websocket change stream for the handler tables and
// returns the subscription handle.
func (g *HTTPGateway) Subscribe(ctx context.Context, handlers map[string]ChangeHandlers) (Subscription, error) {
	if len(handlers) == 0 {
		return nil, &ValidationError{Field: "tables", Reason: "at least one table is required"}
	}
	tables := make([]string, 0, len(handlers))
	for table := range handlers {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	wsBase := strings.Replace(g.baseURL, "http", "ws", 1)
	endpoint := fmt.Sprintf("%s/realtime?tables=%s&access_token=%s",
		wsBase,
		url.QueryEscape(strings.Join(tables, ",")),
		url.QueryEscape(g.AccessToken()))

	conn, response, err := g.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if response != nil && response.StatusCode == http.StatusUnauthorized {
			return nil, &AuthSessionError{Reason: "change stream rejected the session"}
		}
		return nil, &RequestError{Err: err}
	}
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	return newWSSubscription(conn, handlers, g.logger), nil
}

func endpointFor(table string, filter Filter) (string, url.Values, string, error) {
	switch table {
	case TablePosts:
		query := url.Values{}
		if author := filter["author_id"]; author != "" {
			query.Set("author", author)
		}
		if limit := filter["limit"]; limit != "" {
			query.Set("limit", limit)
		}
		return "/posts", query, "posts", nil
	case TableComments:
		postID := filter["post_id"]
		if postID == "" {
			return "", nil, "", &ValidationError{Field: "post_id", Reason: "comment queries require a post"}
		}
		return fmt.Sprintf("/posts/%s/comments", url.PathEscape(postID)), nil, "comments", nil
	case TableLikes:
		postID := filter["post_id"]
		if postID == "" {
			return "", nil, "", &ValidationError{Field: "post_id", Reason: "like queries require a post"}
		}
		return fmt.Sprintf("/posts/%s/likes", url.PathEscape(postID)), nil, "likes", nil
	case TableMessages:
		conversationID := filter["conversation_id"]
		if conversationID == "" {
			return "", nil, "", &ValidationError{Field: "conversation_id", Reason: "message queries require a conversation"}
		}
		return fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID)), nil, "messages", nil
	case TableProfiles:
		username := filter["username"]
		if username == "" {
			return "", nil, "", &ValidationError{Field: "username", Reason: "profile queries require a username"}
		}
		return fmt.Sprintf("/profiles/%s", url.PathEscape(username)), nil, "", nil
	default:
		return "", nil, "", &ValidationError{Field: "table", Reason: fmt.Sprintf("unknown table %q", table)}
	}
}

func mutationFor(table string, op Operation, payload Payload) (string, string, any, error) {
	switch table {
	case TablePosts:
		switch op {
		case OperationInsert:
			return http.MethodPost, "/posts",
				map[string]string{"content": payload["content"], "image_url": payload["image_url"]}, nil
		case OperationDelete:
			return http.MethodDelete, "/posts/" + url.PathEscape(payload["post_id"]), nil, nil
		}
	case TableComments:
		switch op {
		case OperationInsert:
			return http.MethodPost, fmt.Sprintf("/posts/%s/comments", url.PathEscape(payload["post_id"])),
				map[string]string{"content": payload["content"]}, nil
		case OperationDelete:
			return http.MethodDelete, "/comments/" + url.PathEscape(payload["comment_id"]), nil, nil
		}
	case TableLikes:
		switch op {
		case OperationInsert:
			return http.MethodPut, fmt.Sprintf("/posts/%s/like", url.PathEscape(payload["post_id"])), nil, nil
		case OperationDelete:
			return http.MethodDelete, fmt.Sprintf("/posts/%s/like", url.PathEscape(payload["post_id"])), nil, nil
		}
	case TableMessages:
		if op == OperationInsert {
			return http.MethodPost, fmt.Sprintf("/conversations/%s/messages", url.PathEscape(payload["conversation_id"])),
				map[string]string{"body": payload["body"]}, nil
		}
	}
	return "", "", nil, &ValidationError{
		Field:  "operation",
		Reason: fmt.Sprintf("%s is not supported on table %q", op, table),
	}
}

func sortRows(rows []Row, order Order) {
	if order == OrderDefault {
		return
	}
	ascending := order == OrderCreatedAscending
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			if ascending {
				return rows[i].CreatedAt.Before(rows[j].CreatedAt)
			}
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		if ascending {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].ID > rows[j].ID
	})
}

func (g *HTTPGateway) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	target := g.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Err: err}
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &RequestError{Err: err}
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	g.authorize(request)

	response, err := g.httpClient.Do(request)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return g.statusError(response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return &RequestError{Err: err}
	}
	return nil
}

func (g *HTTPGateway) authorize(request *http.Request) {
	if token := g.AccessToken(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
}

func (g *HTTPGateway) statusError(response *http.Response) error {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(response.Body).Decode(&payload)
	code := payload.Error
	if code == "" {
		code = http.StatusText(response.StatusCode)
	}

	switch {
	case response.StatusCode == http.StatusBadRequest,
		response.StatusCode == http.StatusConflict,
		response.StatusCode == http.StatusRequestEntityTooLarge:
		reason := payload.Detail
		if reason == "" {
			reason = code
		}
		return &ValidationError{Reason: reason}
	case response.StatusCode == http.StatusUnauthorized:
		return &AuthSessionError{Reason: code}
	case response.StatusCode == http.StatusForbidden:
		return &PermissionError{Reason: code}
	default:
		return &RequestError{Status: response.StatusCode, Code: code}
	}
}
