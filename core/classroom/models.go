package classroom

import (
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

const unknownClassName = "Unknown class"

type Class struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	TeacherID   int       `json:"teacher_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Membership struct {
	ClassID   int       `json:"class_id"`
	StudentID int       `json:"student_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Assignment belongs to a Class. TeacherID is copied from the class on creation and never re-derived.
type Assignment struct {
	ID          int        `json:"id"`
	ClassID     int        `json:"class_id"`
	TeacherID   int        `json:"teacher_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	FileRef     string     `json:"-"`
	FileName    string     `json:"file_name,omitempty"`
	DueAt       *time.Time `json:"due_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (a Assignment) HasFile() bool { return a.FileRef != "" }

// DeadlinePassed reports whether now is strictly after the due time. Unset due times never pass.
func (a Assignment) DeadlinePassed(now time.Time) bool {
	return a.DueAt != nil && now.After(*a.DueAt)
}

// Submission is unique per (AssignmentID, StudentID).
type Submission struct {
	ID           int        `json:"id"`
	AssignmentID int        `json:"assignment_id"`
	StudentID    int        `json:"student_id"`
	FileRef      string     `json:"-"`
	FileName     string     `json:"file_name"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Feedback     *string    `json:"feedback"`
	FeedbackAt   *time.Time `json:"feedback_at"`
}

// Views

type ClassView struct {
	Class
	TeacherName  string `json:"teacher_name"`
	StudentCount int    `json:"student_count"`
}

type AssignmentView struct {
	Assignment
	ClassName string `json:"class_name"`
	Submitted *bool  `json:"submitted,omitempty"` // student lists only
}

type AssignmentStudent struct {
	StudentID    int        `json:"student_id"`
	Name         string     `json:"name"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Submitted    bool       `json:"submitted"`
	SubmissionID *int       `json:"submission_id"`
	FileName     string     `json:"file_name,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	Feedback     *string    `json:"feedback"`
}

// SubmissionView is a student's own submission with its assignment.
type SubmissionView struct {
	Submission
	AssignmentTitle       string     `json:"assignment_title"`
	AssignmentDescription string     `json:"assignment_description"`
	DueAt                 *time.Time `json:"due_at"`
}

type ClassStudent struct {
	StudentID int       `json:"student_id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ClassID   int       `json:"class_id"`
	ClassName string    `json:"class_name"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Inputs

type NewClass struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

type JoinClass struct {
	Code string `json:"code" validate:"required,classcode"`
}

func (jc *JoinClass) Validate(validate *validator.Validate) error {
	jc.Code = strings.ToUpper(core.CleanString(jc.Code))
	return validate.Struct(jc)
}

type NewAssignment struct {
	ClassID     int          `json:"class_id" form:"class_id" validate:"required"`
	Title       string       `json:"title" form:"title" validate:"required,max=200"`
	Description string       `json:"description" form:"description" validate:"max=5000"`
	DueAt       *time.Time   `json:"due_at" form:"due_at"`
	File        *core.Upload `json:"-" form:"-"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	return validate.Struct(na)
}

// UpdateAssignment replaces the given fields. A nil DueAt with ClearDueAt unsets the due time.
type UpdateAssignment struct {
	Title       string       `json:"title" form:"title" validate:"omitempty,max=200"`
	Description *string      `json:"description" form:"description" validate:"omitempty,max=5000"`
	DueAt       *time.Time   `json:"due_at" form:"due_at"`
	ClearDueAt  bool         `json:"clear_due_at" form:"clear_due_at"`
	File        *core.Upload `json:"-" form:"-"`
}

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	ua.Title = core.CleanString(ua.Title)
	if ua.Description != nil {
		desc := core.CleanString(*ua.Description)
		ua.Description = &desc
	}
	return validate.Struct(ua)
}

type Feedback struct {
	Feedback string `json:"feedback" validate:"required,max=5000"`
}

func (fb *Feedback) Validate(validate *validator.Validate) error {
	fb.Feedback = core.CleanString(fb.Feedback)
	return validate.Struct(fb)
}

// AssignmentFilter narrows a teacher's assignment list.
type AssignmentFilter struct {
	ClassID      *int   `query:"class_id"`
	StudentEmail string `query:"student_email"`
}

func (f *AssignmentFilter) Clean() {
	f.StudentEmail = core.CleanString(f.StudentEmail, true /* lower */)
}

// StudentFilter narrows a teacher's student roster.
type StudentFilter struct {
	ClassID *int   `query:"class_id"`
	Email   string `query:"email"`
}

func (f *StudentFilter) Clean() {
	f.Email = core.CleanString(f.Email, true /* lower */)
}

// Download is a file ready to be streamed to a client.
type Download struct {
	Name    string
	Content io.ReadCloser
}
