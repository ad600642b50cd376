package emailsvc

import (
	"bytes"
	"log"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

var testConf = &core.Config{
	AppName:          "Darasa",
	FrontendBaseURL:  "http://localhost:3000",
	DefaultFromEmail: mail.Address{Name: "Darasa", Address: "noreply@localhost"},
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	svc := NewConsoleServiceMock(nopLogger{}, testConf)

	tests := []struct {
		name     string
		msg      core.EmailMessage
		wantSent bool
	}{
		{
			name:     "plain body",
			msg:      core.EmailMessage{To: []mail.Address{{Address: "bob@example.com"}}, Subject: "Hi", BodyStr: "hello"},
			wantSent: true,
		},
		{
			name: "no recipients",
			msg:  core.EmailMessage{Subject: "Hi", BodyStr: "hello"},
		},
		{
			name: "no content",
			msg:  core.EmailMessage{To: []mail.Address{{Address: "bob@example.com"}}, Subject: "Hi"},
		},
		{
			name: "unknown template",
			msg:  core.EmailMessage{To: []mail.Address{{Address: "bob@example.com"}}, TemplateName: "nope"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(svc.SentMessages())
			msg := tt.msg
			svc.SendMessages(&msg)
			assert.Equal(t, tt.wantSent, len(svc.SentMessages()) == before+1)
		})
	}
}

func TestConsoleService_template(t *testing.T) {
	var buf bytes.Buffer
	svc := NewConsoleService(log.New(&buf, "", 0), nopLogger{}, testConf)
	svc.sync = true

	svc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: "Bob", Address: "bob@example.com"}},
		Subject:      "New assignment: Essay",
		TemplateName: "new_assignment",
		TemplateData: struct {
			StudentName, TeacherName, ClassName, Title, DueAt string
		}{"Bob", "Mrs Smith", "Maths", "Essay", ""},
	})

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, `Mrs Smith posted a new assignment in Maths: "Essay".`)
	assert.Contains(t, sent[0].TextContent, "http://localhost:3000")
	assert.NotEmpty(t, sent[0].HTMLContent)

	out := buf.String()
	assert.Contains(t, out, "Subject: [Darasa] New assignment: Essay")
	assert.Contains(t, out, `To: "Bob" <bob@example.com>`)
	assert.Contains(t, out, "Content-Type: text/html")
}
