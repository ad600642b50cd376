package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	filesvc "github.com/trezcool/darasa/services/files"
	logsvc "github.com/trezcool/darasa/services/logger"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
)

const strongPwd = "Gr@ssh0pper-42"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testApp struct {
	server   *Server
	db       *inmemdb.DB
	clock    *clock
	sessions *session.Manager
	mail     *emailsvc.ConsoleService
}

func setup(t *testing.T) *testApp {
	t.Helper()

	conf := &core.Config{
		AppName:          "Darasa",
		Env:              "test",
		TestMode:         true,
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "Darasa", Address: "noreply@localhost"},
	}
	conf.Cache.MaxEntries = 100
	conf.Cache.ClassesTTL = time.Hour
	conf.Cache.ClassNamesTTL = time.Hour
	conf.Cache.UsersTTL = 30 * time.Minute
	conf.Cache.AssignmentTTL = 15 * time.Minute
	conf.Cache.SubmittedTTL = 10 * time.Minute

	clk := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)

	c, err := cache.NewFromConfig(conf, clk.Now, reg)
	require.NoError(t, err)
	files, err := filesvc.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	db := inmemdb.New()
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	mailSvc := emailsvc.NewConsoleServiceMock(logger, conf)
	sessions := session.NewManager(session.Options{Secret: []byte(conf.SecretKey), Issuer: conf.AppName, Clock: clk.Now})
	svcOpts := classroom.Options{
		Repo:        db,
		Users:       db,
		Loader:      batch.NewLoader(db, c),
		Cache:       c,
		Files:       filesvc.NewPool(files, 2, reg),
		MaxFileSize: 1 << 20,
		Email:       mailSvc,
		Logger:      logger,
		Clock:       clk.Now,
	}

	server := NewServer(Options{
		AppName:        conf.AppName,
		TestMode:       true,
		DisableReqLogs: true,
		Logger:         logger,
		Sessions:       sessions,
		UserSvc:        user.NewService(db, clk.Now),
		ClassSvc:       classroom.NewClassService(svcOpts),
		AssignmentSvc:  classroom.NewAssignmentService(svcOpts),
		Validate:       validate,
		Translator:     translator,
		Metrics:        reg,
	})
	return &testApp{server: server, db: db, clock: clk, sessions: sessions, mail: mailSvc}
}

func (app *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) createUser(t *testing.T, name string, role user.Role) (user.User, string) {
	t.Helper()
	usr := user.User{Name: name, Username: name, Email: name + "@example.com", Role: role, IsActive: true}
	require.NoError(t, usr.SetPassword(strongPwd))
	usr, err := app.db.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr, getToken(t, app.sessions, usr)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

// newFormRequest builds a multipart request. files maps field names to {filename, content}.
func newFormRequest(t *testing.T, method, path, token string, fields map[string]string, files map[string][2]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for field, f := range files {
		fw, err := w.CreateFormFile(field, f[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func getToken(t *testing.T, sessions *session.Manager, usr user.User) string {
	token, err := sessions.Issue(usr)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
