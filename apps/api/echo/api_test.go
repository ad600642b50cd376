package echoapi_test

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/user"
)

func Test_authApi(t *testing.T) {
	app := setup(t)
	_, teacherToken := app.createUser(t, "smith", user.RoleTeacher)

	register := func(uname, email string) []byte {
		return marshalObj(t, user.NewUser{
			Name:            "Alice Doe",
			Username:        uname,
			Email:           email,
			Password:        strongPwd,
			PasswordConfirm: strongPwd,
		})
	}
	login := func(uname, pwd string) []byte {
		return marshalObj(t, map[string]string{"username": uname, "password": pwd})
	}

	tests := []httpTest{
		{
			name:     "register student",
			method:   http.MethodPost,
			path:     "/v1/auth/register/student",
			body:     register("alice", "alice@example.com"),
			wantCode: http.StatusCreated,
		},
		{
			name:     "register taken username",
			method:   http.MethodPost,
			path:     "/v1/auth/register/teacher",
			body:     register("alice", "other@example.com"),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"username": "a user with this username already exists"}),
		},
		{
			name:     "register unknown role",
			method:   http.MethodPost,
			path:     "/v1/auth/register/admin",
			body:     register("carol", "carol@example.com"),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "register missing fields",
			method:   http.MethodPost,
			path:     "/v1/auth/register/student",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "login wrong password",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     login("alice", "nope"),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "invalid credentials"}),
		},
		{
			name:     "login unknown user",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     login("nobody", strongPwd),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "invalid credentials"}),
		},
		{
			name:     "login by email",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     login("Alice@Example.com", strongPwd),
			wantCode: http.StatusOK,
		},
		{
			name:     "me without token",
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "invalid token"}),
		},
		{
			name:     "me with forged token",
			method:   http.MethodGet,
			path:     "/v1/auth/me",
			token:    teacherToken + "x",
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, httpErr{Error: "invalid token"}),
		},
		{
			name:     "refresh too early",
			method:   http.MethodPost,
			path:     "/v1/auth/refresh",
			token:    teacherToken,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: "token is not yet eligible for refresh"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("login then me", func(t *testing.T) {
		rec := app.do(newRequest(http.MethodPost, "/v1/auth/login", login("alice", strongPwd)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
			User      user.User `json:"user"`
		}
		decode(t, rec, &res)
		assert.True(t, app.clock.Now().Add(30*time.Minute).Equal(res.ExpiresAt), res.ExpiresAt)
		assert.Equal(t, "alice", res.User.Username)
		assert.Equal(t, user.RoleStudent, res.User.Role)
		assert.NotContains(t, rec.Body.String(), "password")

		rec = app.do(newAuthRequest(http.MethodGet, "/v1/auth/me", res.Token))
		require.Equal(t, http.StatusOK, rec.Code)
		var me user.User
		decode(t, rec, &me)
		assert.Equal(t, res.User.ID, me.ID)
		assert.NotNil(t, me.LastLogin)
	})
}

func Test_authApi_refresh(t *testing.T) {
	app := setup(t)
	_, token := app.createUser(t, "smith", user.RoleTeacher)

	status := func(token string) map[string]interface{} {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/auth/token-status", token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var st map[string]interface{}
		decode(t, rec, &st)
		return st
	}

	st := status(token)
	assert.Equal(t, false, st["should_refresh"])
	assert.Equal(t, false, st["is_expired"])

	app.clock.Advance(26 * time.Minute)
	assert.Equal(t, true, status(token)["should_refresh"])

	rec := app.do(newAuthRequest(http.MethodPost, "/v1/auth/refresh", token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	decode(t, rec, &res)
	assert.NotEqual(t, token, res.Token)
	assert.Equal(t, false, status(res.Token)["should_refresh"])

	// the old token is still eligible but the subject was just refreshed
	rec = app.do(newAuthRequest(http.MethodPost, "/v1/auth/refresh", token))
	checkCodeAndData(t, httpTest{wantCode: http.StatusTooManyRequests, wantData: marshalObj(t, httpErr{Error: "refresh rate limited"})}, rec)

	app.clock.Advance(5 * time.Minute)
	assert.Equal(t, true, status(token)["is_expired"])
	rec = app.do(newAuthRequest(http.MethodGet, "/v1/auth/me", token))
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marshalObj(t, httpErr{Error: "token expired"})}, rec)
}

func Test_classroomFlow(t *testing.T) {
	app := setup(t)
	_, teacherToken := app.createUser(t, "smith", user.RoleTeacher)
	_, otherTeacherToken := app.createUser(t, "jones", user.RoleTeacher)
	_, studentToken := app.createUser(t, "alice", user.RoleStudent)

	// class
	rec := app.do(newAuthRequest(http.MethodPost, "/v1/classes", studentToken, []byte(`{"name":"Maths"}`)))
	checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "forbidden"})}, rec)

	rec = app.do(newAuthRequest(http.MethodPost, "/v1/classes", teacherToken, []byte(`{"name":" Maths "}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cls struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
		Code string `json:"code"`
	}
	decode(t, rec, &cls)
	assert.Equal(t, "Maths", cls.Name)

	rec = app.do(newAuthRequest(http.MethodPost, "/v1/classes/join", studentToken, marshalObj(t, map[string]string{"code": strings.ToLower(cls.Code)})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(newAuthRequest(http.MethodPost, "/v1/classes/join", studentToken, marshalObj(t, map[string]string{"code": cls.Code})))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(newAuthRequest(http.MethodGet, "/v1/classes", studentToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var classes []map[string]interface{}
	decode(t, rec, &classes)
	require.Len(t, classes, 1)
	assert.Equal(t, "smith", classes[0]["teacher_name"])
	assert.EqualValues(t, 1, classes[0]["student_count"])

	rec = app.do(newAuthRequest(http.MethodGet, "/v1/students?email=ALICE", teacherToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var students []map[string]interface{}
	decode(t, rec, &students)
	require.Len(t, students, 1)
	assert.Equal(t, "alice@example.com", students[0]["email"])

	// assignment
	due := app.clock.Now().Add(24 * time.Hour)
	rec = app.do(newFormRequest(t, http.MethodPost, "/v1/assignments", teacherToken, map[string]string{
		"class_id": fmt.Sprint(cls.ID),
		"title":    "Essay",
		"due_at":   due.Format(time.RFC3339),
	}, map[string][2]string{"file": {"brief.pdf", "%PDF-brief"}}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a struct {
		ID       int    `json:"id"`
		FileName string `json:"file_name"`
	}
	decode(t, rec, &a)
	assert.Equal(t, "brief.pdf", a.FileName)
	require.Len(t, app.mail.SentMessages(), 1)
	assert.Equal(t, "New assignment: Essay", app.mail.SentMessages()[0].Subject)

	rec = app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/assignments/%d/file", a.ID), studentToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="Essay-instructions.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-brief", rec.Body.String())

	rec = app.do(newAuthRequest(http.MethodGet, "/v1/assignments?submitted=false", studentToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []map[string]interface{}
	decode(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "Maths", pending[0]["class_name"])

	// submission
	subPath := fmt.Sprintf("/v1/assignments/%d/submission", a.ID)
	rec = app.do(newFormRequest(t, http.MethodPost, subPath, studentToken, nil, nil))
	checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"file": "this field is required"})}, rec)

	rec = app.do(newFormRequest(t, http.MethodPost, subPath, studentToken, nil, map[string][2]string{"file": {"essay.exe", "MZ"}}))
	checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"file": "file type is not allowed"})}, rec)

	rec = app.do(newFormRequest(t, http.MethodPost, subPath, studentToken, nil, map[string][2]string{"file": {"essay.docx", "v1"}}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub struct {
		ID int `json:"id"`
	}
	decode(t, rec, &sub)

	rec = app.do(newFormRequest(t, http.MethodPost, subPath, studentToken, nil, map[string][2]string{"file": {"essay.docx", "v2"}}))
	checkCodeAndData(t, httpTest{wantCode: http.StatusConflict, wantData: marshalObj(t, httpErr{Error: "assignment already submitted"})}, rec)

	rec = app.do(newAuthRequest(http.MethodPost, fmt.Sprintf("/v1/submissions/%d/feedback", sub.ID), teacherToken, []byte(`{"feedback":"Well done"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(newAuthRequest(http.MethodGet, subPath, studentToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]interface{}
	decode(t, rec, &view)
	assert.Equal(t, "Well done", view["feedback"])
	assert.Equal(t, "Essay", view["assignment_title"])

	rec = app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/submissions/%d/file", sub.ID), teacherToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="alice-Essay.docx"`, rec.Header().Get("Content-Disposition"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(body))

	rec = app.do(newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/submissions/%d/file", sub.ID), otherTeacherToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// deadline
	app.clock.Advance(25 * time.Hour)
	rec = app.do(newFormRequest(t, http.MethodPut, subPath, studentToken, nil, map[string][2]string{"file": {"essay.docx", "late"}}))
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnprocessableEntity, wantData: marshalObj(t, httpErr{Error: "deadline has passed"})}, rec)

	rec = app.do(newAuthRequest(http.MethodDelete, subPath, studentToken))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = app.do(newAuthRequest(http.MethodGet, subPath, studentToken))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// delete
	aPath := fmt.Sprintf("/v1/assignments/%d", a.ID)
	rec = app.do(newAuthRequest(http.MethodDelete, aPath, otherTeacherToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = app.do(newAuthRequest(http.MethodDelete, aPath, teacherToken))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = app.do(newAuthRequest(http.MethodGet, "/v1/assignments", teacherToken))
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`[]`)}, rec)
	rec = app.do(newAuthRequest(http.MethodDelete, aPath, teacherToken))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_assignmentApi_update(t *testing.T) {
	app := setup(t)
	_, teacherToken := app.createUser(t, "smith", user.RoleTeacher)

	rec := app.do(newAuthRequest(http.MethodPost, "/v1/classes", teacherToken, []byte(`{"name":"Physics"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var cls struct {
		ID int `json:"id"`
	}
	decode(t, rec, &cls)

	due := app.clock.Now().Add(time.Hour).Format(time.RFC3339)
	rec = app.do(newFormRequest(t, http.MethodPost, "/v1/assignments", teacherToken,
		map[string]string{"class_id": fmt.Sprint(cls.ID), "title": "Lab report", "description": "Pendulum", "due_at": due}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a struct {
		ID int `json:"id"`
	}
	decode(t, rec, &a)
	path := fmt.Sprintf("/v1/assignments/%d", a.ID)

	tests := []struct {
		httpTest
		fields map[string]string
		check  func(t *testing.T, got map[string]interface{})
	}{
		{
			httpTest: httpTest{name: "title only", wantCode: http.StatusOK},
			fields:   map[string]string{"title": "Lab report v2"},
			check: func(t *testing.T, got map[string]interface{}) {
				assert.Equal(t, "Lab report v2", got["title"])
				assert.Equal(t, "Pendulum", got["description"])
				assert.Equal(t, due, got["due_at"])
			},
		},
		{
			httpTest: httpTest{name: "clear due date and description", wantCode: http.StatusOK},
			fields:   map[string]string{"clear_due_at": "true", "description": ""},
			check: func(t *testing.T, got map[string]interface{}) {
				assert.Nil(t, got["due_at"])
				assert.Equal(t, "", got["description"])
			},
		},
		{
			httpTest: httpTest{name: "bad due date", wantCode: http.StatusBadRequest},
			fields:   map[string]string{"due_at": "tomorrow"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newFormRequest(t, http.MethodPut, path, teacherToken, tt.fields, nil))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.check != nil {
				var got map[string]interface{}
				decode(t, rec, &got)
				tt.check(t, got)
			}
		})
	}
}

func Test_server_misc(t *testing.T) {
	app := setup(t)

	tests := []httpTest{
		{name: "home", method: http.MethodGet, path: "/", wantCode: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/v1/nope", wantCode: http.StatusNotFound},
		{name: "bad id", method: http.MethodDelete, path: "/v1/classes/abc", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.do(newRequest(tt.method, tt.path)))
		})
	}

	t.Run("metrics", func(t *testing.T) {
		_, token := app.createUser(t, "smith", user.RoleTeacher)
		app.do(newAuthRequest(http.MethodGet, "/v1/classes", token))

		rec := app.do(newRequest(http.MethodGet, "/metrics"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "darasa_files_operations_in_flight")
	})
}
