package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"github.com/sogeor/flow/domain"
	"github.com/sogeor/flow/storage"
)

type testServer struct {
	e  *echo.Echo
	st *storage.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	st := storage.NewMemory()
	e := echo.New()
	Setup(e, logger)
	Register(e, Deps{
		Accounts:  domain.NewAccountService(st, bcrypt.MinCost),
		Boards:    domain.NewBoardService(st, st),
		Workflows: domain.NewWorkflowService(st, st),
		Cascade:   domain.NewOrchestrator(st, domain.WithLogger(logger)),
		Sessions:  NewSessions(SessionConfig{Secret: testSecret, TokenTTL: 24 * time.Hour, CookieTTL: time.Hour}),
		Log:       logger,
	})
	return &testServer{e: e, st: st}
}

func (s *testServer) do(t *testing.T, method, path, body string, ck *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if ck != nil {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// signup registers an account and returns its id and session cookie.
func (s *testServer) signup(t *testing.T, email string) (string, *http.Cookie) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/account/create", `{"email":"`+email+`","password":"secret1","username":"user"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp idResponse
	decode(t, rec, &resp)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == SessionCookie {
			return resp.ID, ck
		}
	}
	t.Fatalf("signup: no session cookie set")
	return "", nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := sonic.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Error != msg {
		t.Fatalf("expected error %q, got %q", msg, resp.Error)
	}
}

func TestSignupSetsSessionCookie(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/account/create", `{"email":"alice@example.com","password":"secret1","username":"alice"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	ck := cookies[0]
	if ck.Name != "token" || !ck.HttpOnly || ck.SameSite != http.SameSiteStrictMode || ck.MaxAge != 3600 {
		t.Fatalf("unexpected cookie: %+v", ck)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.signup(t, "bob@example.com")

	rec := s.do(t, http.MethodPost, "/api/account/login", `{"email":"bob@example.com","password":"secret1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp idResponse
	decode(t, rec, &resp)
	if resp.ID != id {
		t.Fatalf("login returned %s, want %s", resp.ID, id)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Fatalf("login must set the session cookie")
	}

	rec = s.do(t, http.MethodPost, "/api/account/login", `{"email":"bob@example.com","password":"nope"}`, nil)
	expectError(t, rec, http.StatusUnauthorized, "Invalid credentials")
	rec = s.do(t, http.MethodPost, "/api/account/login", `{"email":"ghost@example.com","password":"secret1"}`, nil)
	expectError(t, rec, http.StatusUnauthorized, "Invalid credentials")
}

func TestRequestsWithoutSessionAreRejected(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/account/me/about", "", nil)
	expectError(t, rec, http.StatusUnauthorized, "Please authenticate")

	rec = s.do(t, http.MethodGet, "/api/account/me/about", "", &http.Cookie{Name: SessionCookie, Value: "forged.token.value"})
	expectError(t, rec, http.StatusUnauthorized, "Please authenticate")

	rec = s.do(t, http.MethodPost, "/api/board", `{"title":"x"}`, nil)
	expectError(t, rec, http.StatusUnauthorized, "Please authenticate")
}

func TestBearerHeaderAuthenticates(t *testing.T) {
	s := newTestServer(t)
	_, ck := s.signup(t, "carl@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/account/me/about", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+ck.Value)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSelfAliasMatchesExplicitID(t *testing.T) {
	s := newTestServer(t)
	id, ck := s.signup(t, "dana@example.com")

	viaAlias := s.do(t, http.MethodGet, "/api/account/me/about", "", ck)
	viaID := s.do(t, http.MethodGet, "/api/account/"+id+"/about", "", ck)
	if viaAlias.Code != http.StatusOK || viaID.Code != http.StatusOK {
		t.Fatalf("unexpected statuses %d / %d", viaAlias.Code, viaID.Code)
	}
	if viaAlias.Body.String() != viaID.Body.String() {
		t.Fatalf("alias response differs:\n%s\n%s", viaAlias.Body.String(), viaID.Body.String())
	}
	if strings.Contains(viaAlias.Body.String(), "secret1") || strings.Contains(strings.ToLower(viaAlias.Body.String()), "password") {
		t.Fatalf("account response leaks the password: %s", viaAlias.Body.String())
	}
	var acc domain.Account
	decode(t, viaAlias, &acc)
	if acc.ID != id || acc.Email != "dana@example.com" {
		t.Fatalf("unexpected account: %+v", acc)
	}
}

func TestOtherAccountsAreAddressable(t *testing.T) {
	s := newTestServer(t)
	victim, _ := s.signup(t, "erin@example.com")
	_, ck := s.signup(t, "frank@example.com")

	rec := s.do(t, http.MethodGet, "/api/account/"+victim+"/about", "", ck)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected any principal to read any account, got %d", rec.Code)
	}
}

func TestAccountSettingsReplace(t *testing.T) {
	s := newTestServer(t)
	_, ck := s.signup(t, "gina@example.com")

	rec := s.do(t, http.MethodGet, "/api/account/me/settings", "", ck)
	var settings map[string]any
	decode(t, rec, &settings)
	if settings["theme"] != "light" || settings["notifications"] != true {
		t.Fatalf("unexpected default settings: %v", settings)
	}

	rec = s.do(t, http.MethodPut, "/api/account/me/settings", `{"theme":"dark"}`, ck)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/account/me/settings", "", ck)
	settings = nil
	decode(t, rec, &settings)
	if len(settings) != 1 || settings["theme"] != "dark" {
		t.Fatalf("settings were merged instead of replaced: %v", settings)
	}

	rec = s.do(t, http.MethodPut, "/api/account/me/settings", `{"theme":"dark","fontSize":12}`, ck)
	expectError(t, rec, http.StatusBadRequest, "Invalid request body")
	rec = s.do(t, http.MethodPut, "/api/account/missing/settings", `{}`, ck)
	expectError(t, rec, http.StatusNotFound, "Account not found")
}

func TestBoardWorkflowCardFlow(t *testing.T) {
	s := newTestServer(t)
	owner, ck := s.signup(t, "hank@example.com")

	rec := s.do(t, http.MethodPost, "/api/board", `{"title":"Launch","settings":{"color":"#123456"}}`, ck)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create board: %d %s", rec.Code, rec.Body.String())
	}
	var board domain.Board
	decode(t, rec, &board)
	if board.OwnerID != owner || *board.Settings.Visibility != "private" || *board.Settings.Color != "#123456" {
		t.Fatalf("unexpected board: %+v", board)
	}

	rec = s.do(t, http.MethodGet, "/api/account/me/boards", "", ck)
	var boards []domain.Board
	decode(t, rec, &boards)
	if len(boards) != 1 || boards[0].ID != board.ID {
		t.Fatalf("unexpected boards: %+v", boards)
	}

	rec = s.do(t, http.MethodPost, "/api/board/"+board.ID+"/workflow", `{"title":"Todo"}`, ck)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workflow: %d %s", rec.Code, rec.Body.String())
	}
	var wf domain.Workflow
	decode(t, rec, &wf)
	if wf.BoardID != board.ID || wf.Cards == nil {
		t.Fatalf("unexpected workflow: %+v", wf)
	}

	base := "/api/board/" + board.ID + "/workflow/" + wf.ID + "/card"
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		rec = s.do(t, http.MethodPost, base, `{"title":"`+title+`","description":"d"}`, ck)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create card: %d %s", rec.Code, rec.Body.String())
		}
		var card domain.Card
		decode(t, rec, &card)
		ids = append(ids, card.ID)
	}

	rec = s.do(t, http.MethodDelete, base+"/"+ids[1], "", ck)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Card deleted") {
		t.Fatalf("delete card: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodDelete, base+"/unknown-card", "", ck)
	if rec.Code != http.StatusOK {
		t.Fatalf("deleting an unknown card should succeed, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodDelete, "/api/board/"+board.ID+"/workflow/missing/card/"+ids[0], "", ck)
	expectError(t, rec, http.StatusNotFound, "Workflow not found")

	rec = s.do(t, http.MethodGet, "/api/board/"+board.ID+"/workflow", "", ck)
	var workflows []domain.Workflow
	decode(t, rec, &workflows)
	if len(workflows) != 1 {
		t.Fatalf("unexpected workflows: %+v", workflows)
	}
	cards := workflows[0].Cards
	if len(cards) != 2 || cards[0].ID != ids[0] || cards[1].ID != ids[2] {
		t.Fatalf("unexpected card order: %+v", cards)
	}

	rec = s.do(t, http.MethodPut, "/api/board/"+board.ID+"/settings", `{"visibility":"public"}`, ck)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace board settings: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "color") {
		t.Fatalf("board settings merged instead of replaced: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, "/api/board/"+board.ID+"/workflow/"+wf.ID, "", ck)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Workflow deleted") {
		t.Fatalf("delete workflow: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodDelete, "/api/board/"+board.ID+"/workflow/"+wf.ID, "", ck)
	expectError(t, rec, http.StatusNotFound, "Workflow not found")
}

func TestDeleteAccountCascades(t *testing.T) {
	s := newTestServer(t)
	_, ck := s.signup(t, "ivy@example.com")
	other, otherCk := s.signup(t, "jack@example.com")

	rec := s.do(t, http.MethodPost, "/api/board", `{"title":"Mine"}`, ck)
	var board domain.Board
	decode(t, rec, &board)
	rec = s.do(t, http.MethodPost, "/api/board/"+board.ID+"/workflow", `{"title":"Todo"}`, ck)
	var wf domain.Workflow
	decode(t, rec, &wf)
	rec = s.do(t, http.MethodPost, "/api/board/"+board.ID+"/workflow/"+wf.ID+"/card", `{"title":"Ship it"}`, ck)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create card: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/board", `{"title":"Theirs"}`, otherCk)
	var otherBoard domain.Board
	decode(t, rec, &otherBoard)

	rec = s.do(t, http.MethodDelete, "/api/account/me", "", ck)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete account: %d %s", rec.Code, rec.Body.String())
	}
	var msg messageResponse
	decode(t, rec, &msg)
	if msg.Message != "Account deleted" {
		t.Fatalf("unexpected message %q", msg.Message)
	}

	ctx := context.Background()
	if _, err := s.st.GetBoard(ctx, board.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("board survived the cascade: %v", err)
	}
	if _, err := s.st.GetWorkflow(ctx, wf.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("workflow survived the cascade: %v", err)
	}
	if boards, _ := s.st.ListBoards(ctx, other); len(boards) != 1 || boards[0].ID != otherBoard.ID {
		t.Fatalf("cascade touched another account: %+v", boards)
	}

	// The token outlives the account it names.
	rec = s.do(t, http.MethodGet, "/api/account/me/about", "", ck)
	expectError(t, rec, http.StatusNotFound, "Account not found")
	rec = s.do(t, http.MethodDelete, "/api/account/me", "", ck)
	expectError(t, rec, http.StatusNotFound, "Account not found")
	rec = s.do(t, http.MethodPost, "/api/board", `{"title":"Orphan"}`, ck)
	expectError(t, rec, http.StatusNotFound, "Account not found")

	// Nothing under the deleted account is reachable through the API.
	rec = s.do(t, http.MethodGet, "/api/board/"+board.ID+"/settings", "", otherCk)
	expectError(t, rec, http.StatusNotFound, "Board not found")
	rec = s.do(t, http.MethodGet, "/api/board/"+board.ID+"/workflow", "", otherCk)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), wf.ID) {
		t.Fatalf("workflow still listed: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/api/board/"+board.ID+"/workflow/"+wf.ID+"/card", `{"title":"Late"}`, otherCk)
	expectError(t, rec, http.StatusNotFound, "Workflow not found")
}

func TestDeleteBoard(t *testing.T) {
	s := newTestServer(t)
	_, ck := s.signup(t, "kim@example.com")
	rec := s.do(t, http.MethodPost, "/api/board", `{"title":"B"}`, ck)
	var board domain.Board
	decode(t, rec, &board)
	_ = s.do(t, http.MethodPost, "/api/board/"+board.ID+"/workflow", `{"title":"W"}`, ck)

	rec = s.do(t, http.MethodDelete, "/api/board/"+board.ID, "", ck)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Board deleted") {
		t.Fatalf("delete board: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/board/"+board.ID+"/workflow", "", ck)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("workflows survived board deletion: %s", rec.Body.String())
	}
	rec = s.do(t, http.MethodDelete, "/api/board/"+board.ID, "", ck)
	expectError(t, rec, http.StatusNotFound, "Board not found")
	rec = s.do(t, http.MethodGet, "/api/board/"+board.ID+"/settings", "", ck)
	expectError(t, rec, http.StatusNotFound, "Board not found")
}

func TestCreateWorkflowOnUnknownBoard(t *testing.T) {
	s := newTestServer(t)
	_, ck := s.signup(t, "lee@example.com")
	rec := s.do(t, http.MethodPost, "/api/board/nope/workflow", `{"title":"W"}`, ck)
	expectError(t, rec, http.StatusNotFound, "Board not found")
	rec = s.do(t, http.MethodPost, "/api/board/nope/workflow/nope/card", `{"title":"C"}`, ck)
	expectError(t, rec, http.StatusNotFound, "Workflow not found")
}

func TestDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "max@example.com")
	rec := s.do(t, http.MethodPost, "/api/account/create", `{"email":"MAX@example.com","password":"secret1","username":"max"}`, nil)
	expectError(t, rec, http.StatusConflict, "Account creation failed")
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)
	_, ck := s.signup(t, "ned@example.com")

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		auth   bool
		msg    string
	}{
		{"bad email", http.MethodPost, "/api/account/create", `{"email":"nope","password":"secret1","username":"u"}`, false, "Invalid email"},
		{"short password", http.MethodPost, "/api/account/create", `{"email":"a@b.co","password":"123","username":"u"}`, false, "Password must be at least 6 characters"},
		{"missing username", http.MethodPost, "/api/account/create", `{"email":"a@b.co","password":"secret1"}`, false, "Username is required"},
		{"login without password", http.MethodPost, "/api/account/login", `{"email":"a@b.co"}`, false, "Password is required"},
		{"malformed json", http.MethodPost, "/api/account/login", `{"email":`, false, "Invalid request body"},
		{"board without title", http.MethodPost, "/api/board", `{"settings":{}}`, true, "Title is required"},
		{"blank board title", http.MethodPost, "/api/board", `{"title":"   "}`, true, "Title is required"},
		{"bad visibility", http.MethodPost, "/api/board", `{"title":"x","settings":{"visibility":"secret"}}`, true, "Visibility must be public or private"},
		{"unknown field", http.MethodPost, "/api/board", `{"title":"x","owner":"someone"}`, true, "Invalid request body"},
		{"card without title", http.MethodPost, "/api/board/b/workflow/w/card", `{"description":"d"}`, true, "Title is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cookie *http.Cookie
			if tc.auth {
				cookie = ck
			}
			rec := s.do(t, tc.method, tc.path, tc.body, cookie)
			expectError(t, rec, http.StatusBadRequest, tc.msg)
		})
	}
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/nowhere", "", nil)
	expectError(t, rec, http.StatusNotFound, "Not Found")
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
