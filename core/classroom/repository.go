package classroom

import (
	"context"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrClassNotFound      = core.NewError(core.KindNotFound, "class not found")
	ErrAssignmentNotFound = core.NewError(core.KindNotFound, "assignment not found")
	ErrSubmissionNotFound = core.NewError(core.KindNotFound, "submission not found")
	ErrMemberNotFound     = core.NewError(core.KindNotFound, "student is not a member of this class")
	ErrFileNotFound       = core.NewError(core.KindNotFound, "file not found")
	ErrClassCodeExists    = core.NewError(core.KindConflict, "a class with this code already exists")
	ErrAlreadyMember      = core.NewError(core.KindConflict, "student already joined this class")
	ErrAlreadySubmitted   = core.NewError(core.KindConflict, "assignment already submitted")
	ErrDeadlinePassed     = core.NewError(core.KindDeadlinePassed, "the assignment's deadline has passed")
	ErrForbidden          = core.NewError(core.KindForbidden, "forbidden")
)

// Repository is the store of record for classes, memberships, assignments & submissions.
// Unique constraint violations are reported as Conflict errors, missing rows as NotFound errors
// and I/O failures as Unavailable errors.
type Repository interface {
	// RunInTx runs fn against a transactional Repository, committing if fn returns nil.
	RunInTx(ctx context.Context, fn func(tx Repository) error) error

	CreateClass(ctx context.Context, cls Class) (Class, error)
	GetClassByID(ctx context.Context, id int) (Class, error)
	GetClassByCode(ctx context.Context, code string) (Class, error)
	ClassCodeExists(ctx context.Context, code string) (bool, error)
	QueryClassesByTeacher(ctx context.Context, teacherID int) ([]Class, error)
	QueryClassesByStudent(ctx context.Context, studentID int) ([]Class, error)
	DeleteClass(ctx context.Context, id int) error

	CreateMembership(ctx context.Context, m Membership) error
	DeleteMembership(ctx context.Context, classID, studentID int) error
	DeleteMembershipsByClass(ctx context.Context, classID int) error
	IsMember(ctx context.Context, classID, studentID int) (bool, error)
	// QueryMemberships returns the memberships of the given classes, oldest first.
	QueryMemberships(ctx context.Context, classIDs ...int) ([]Membership, error)
	// CountMembers returns the number of students per class in one query. Empty classes are absent.
	CountMembers(ctx context.Context, classIDs ...int) (map[int]int, error)

	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignmentByID(ctx context.Context, id int) (Assignment, error)
	UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DeleteAssignment(ctx context.Context, id int) error
	DeleteAssignmentsByClass(ctx context.Context, classID int) error
	// QueryAssignments returns the assignments matching teacherID (when not 0) & classIDs (when not nil), newest first.
	QueryAssignments(ctx context.Context, teacherID int, classIDs []int) ([]Assignment, error)

	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	GetSubmission(ctx context.Context, assignmentID, studentID int) (Submission, error)
	GetSubmissionByID(ctx context.Context, id int) (Submission, error)
	UpdateSubmission(ctx context.Context, s Submission) (Submission, error)
	DeleteSubmission(ctx context.Context, id int) error
	DeleteSubmissionsByAssignment(ctx context.Context, assignmentIDs ...int) error
	// QuerySubmissionsByAssignment returns the submissions to any of assignmentIDs, ordered by ID.
	QuerySubmissionsByAssignment(ctx context.Context, assignmentIDs ...int) ([]Submission, error)
}
