package sqlxrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core/classroom"
)

const (
	classColumns      = `id, name, description, code, teacher_id, created_at`
	assignmentColumns = `id, class_id, teacher_id, title, description, file_ref, file_name, due_at, created_at, updated_at`
	submissionColumns = `id, assignment_id, student_id, file_ref, file_name, submitted_at, feedback, feedback_at`
)

type (
	classRow struct {
		ID          int       `db:"id"`
		Name        string    `db:"name"`
		Description string    `db:"description"`
		Code        string    `db:"code"`
		TeacherID   int       `db:"teacher_id"`
		CreatedAt   time.Time `db:"created_at"`
	}

	membershipRow struct {
		ClassID   int       `db:"class_id"`
		StudentID int       `db:"student_id"`
		JoinedAt  time.Time `db:"joined_at"`
	}

	assignmentRow struct {
		ID          int         `db:"id"`
		ClassID     int         `db:"class_id"`
		TeacherID   int         `db:"teacher_id"`
		Title       string      `db:"title"`
		Description string      `db:"description"`
		FileRef     null.String `db:"file_ref"`
		FileName    null.String `db:"file_name"`
		DueAt       null.Time   `db:"due_at"`
		CreatedAt   time.Time   `db:"created_at"`
		UpdatedAt   time.Time   `db:"updated_at"`
	}

	submissionRow struct {
		ID           int         `db:"id"`
		AssignmentID int         `db:"assignment_id"`
		StudentID    int         `db:"student_id"`
		FileRef      string      `db:"file_ref"`
		FileName     string      `db:"file_name"`
		SubmittedAt  time.Time   `db:"submitted_at"`
		Feedback     null.String `db:"feedback"`
		FeedbackAt   null.Time   `db:"feedback_at"`
	}
)

func (r classRow) class() classroom.Class {
	return classroom.Class{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Code:        r.Code,
		TeacherID:   r.TeacherID,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func classes(rows []classRow) []classroom.Class {
	out := make([]classroom.Class, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.class())
	}
	return out
}

func toAssignmentRow(a classroom.Assignment) assignmentRow {
	return assignmentRow{
		ID:          a.ID,
		ClassID:     a.ClassID,
		TeacherID:   a.TeacherID,
		Title:       a.Title,
		Description: a.Description,
		FileRef:     null.NewString(a.FileRef, a.FileRef != ""),
		FileName:    null.NewString(a.FileName, a.FileName != ""),
		DueAt:       null.TimeFromPtr(a.DueAt),
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func (r assignmentRow) assignment() classroom.Assignment {
	return classroom.Assignment{
		ID:          r.ID,
		ClassID:     r.ClassID,
		TeacherID:   r.TeacherID,
		Title:       r.Title,
		Description: r.Description,
		FileRef:     r.FileRef.String,
		FileName:    r.FileName.String,
		DueAt:       utcPtr(r.DueAt),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func toSubmissionRow(sub classroom.Submission) submissionRow {
	return submissionRow{
		ID:           sub.ID,
		AssignmentID: sub.AssignmentID,
		StudentID:    sub.StudentID,
		FileRef:      sub.FileRef,
		FileName:     sub.FileName,
		SubmittedAt:  sub.SubmittedAt.UTC(),
		Feedback:     null.StringFromPtr(sub.Feedback),
		FeedbackAt:   null.TimeFromPtr(sub.FeedbackAt),
	}
}

func (r submissionRow) submission() classroom.Submission {
	return classroom.Submission{
		ID:           r.ID,
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		FileRef:      r.FileRef,
		FileName:     r.FileName,
		SubmittedAt:  r.SubmittedAt.UTC(),
		Feedback:     r.Feedback.Ptr(),
		FeedbackAt:   utcPtr(r.FeedbackAt),
	}
}

// Classes

func (s *Store) CreateClass(ctx context.Context, cls classroom.Class) (classroom.Class, error) {
	row := classRow{Name: cls.Name, Description: cls.Description, Code: cls.Code, TeacherID: cls.TeacherID, CreatedAt: cls.CreatedAt.UTC()}
	id, err := s.insert(ctx, `
		INSERT INTO classes (name, description, code, teacher_id, created_at)
		VALUES (:name, :description, :code, :teacher_id, :created_at)
		RETURNING id`, row)
	if err != nil {
		return classroom.Class{}, trapErr(err, "inserting class", nil)
	}
	cls.ID = id
	return cls, nil
}

func (s *Store) GetClassByID(ctx context.Context, id int) (classroom.Class, error) {
	var row classRow
	if err := s.get(ctx, &row, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id); err != nil {
		return classroom.Class{}, trapErr(err, "finding class by ID", classroom.ErrClassNotFound)
	}
	return row.class(), nil
}

func (s *Store) GetClassByCode(ctx context.Context, code string) (classroom.Class, error) {
	var row classRow
	if err := s.get(ctx, &row, `SELECT `+classColumns+` FROM classes WHERE code = $1`, code); err != nil {
		return classroom.Class{}, trapErr(err, "finding class by code", classroom.ErrClassNotFound)
	}
	return row.class(), nil
}

func (s *Store) ClassCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := s.get(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM classes WHERE code = $1)`, code); err != nil {
		return false, trapErr(err, "checking class code", nil)
	}
	return exists, nil
}

func (s *Store) QueryClassesByTeacher(ctx context.Context, teacherID int) ([]classroom.Class, error) {
	var rows []classRow
	err := s.selectAll(ctx, &rows, `
		SELECT `+classColumns+` FROM classes
		WHERE teacher_id = $1
		ORDER BY created_at DESC, id DESC`, teacherID)
	if err != nil {
		return nil, trapErr(err, "querying classes by teacher", nil)
	}
	return classes(rows), nil
}

func (s *Store) QueryClassesByStudent(ctx context.Context, studentID int) ([]classroom.Class, error) {
	var rows []classRow
	err := s.selectAll(ctx, &rows, `
		SELECT c.id, c.name, c.description, c.code, c.teacher_id, c.created_at
		FROM classes c
		JOIN class_memberships m ON m.class_id = c.id
		WHERE m.student_id = $1
		ORDER BY c.created_at DESC, c.id DESC`, studentID)
	if err != nil {
		return nil, trapErr(err, "querying classes by student", nil)
	}
	return classes(rows), nil
}

func (s *Store) DeleteClass(ctx context.Context, id int) error {
	n, err := s.execute(ctx, `DELETE FROM classes WHERE id = $1`, id)
	return affected(n, err, "deleting class", classroom.ErrClassNotFound)
}

// Memberships

func (s *Store) CreateMembership(ctx context.Context, m classroom.Membership) error {
	_, err := s.execute(ctx, `INSERT INTO class_memberships (class_id, student_id, joined_at) VALUES ($1, $2, $3)`,
		m.ClassID, m.StudentID, m.JoinedAt.UTC())
	return trapErr(err, "inserting membership", nil)
}

func (s *Store) DeleteMembership(ctx context.Context, classID, studentID int) error {
	n, err := s.execute(ctx, `DELETE FROM class_memberships WHERE class_id = $1 AND student_id = $2`, classID, studentID)
	return affected(n, err, "deleting membership", classroom.ErrMemberNotFound)
}

func (s *Store) DeleteMembershipsByClass(ctx context.Context, classID int) error {
	_, err := s.execute(ctx, `DELETE FROM class_memberships WHERE class_id = $1`, classID)
	return trapErr(err, "deleting class memberships", nil)
}

func (s *Store) IsMember(ctx context.Context, classID, studentID int) (bool, error) {
	var exists bool
	err := s.get(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM class_memberships WHERE class_id = $1 AND student_id = $2)`, classID, studentID)
	if err != nil {
		return false, trapErr(err, "checking membership", nil)
	}
	return exists, nil
}

func (s *Store) QueryMemberships(ctx context.Context, classIDs ...int) ([]classroom.Membership, error) {
	var rows []membershipRow
	err := s.selectAll(ctx, &rows, `
		SELECT class_id, student_id, joined_at FROM class_memberships
		WHERE class_id = ANY($1)
		ORDER BY joined_at, class_id, student_id`, pq.Array(toInt64s(classIDs)))
	if err != nil {
		return nil, trapErr(err, "querying memberships", nil)
	}
	ms := make([]classroom.Membership, 0, len(rows))
	for _, r := range rows {
		ms = append(ms, classroom.Membership{ClassID: r.ClassID, StudentID: r.StudentID, JoinedAt: r.JoinedAt.UTC()})
	}
	return ms, nil
}

func (s *Store) CountMembers(ctx context.Context, classIDs ...int) (map[int]int, error) {
	var rows []struct {
		ClassID int `db:"class_id"`
		Count   int `db:"count"`
	}
	err := s.selectAll(ctx, &rows, `
		SELECT class_id, COUNT(*) AS count FROM class_memberships
		WHERE class_id = ANY($1)
		GROUP BY class_id`, pq.Array(toInt64s(classIDs)))
	if err != nil {
		return nil, trapErr(err, "counting members", nil)
	}
	counts := make(map[int]int, len(rows))
	for _, r := range rows {
		counts[r.ClassID] = r.Count
	}
	return counts, nil
}

// Assignments

func (s *Store) CreateAssignment(ctx context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	id, err := s.insert(ctx, `
		INSERT INTO assignments (class_id, teacher_id, title, description, file_ref, file_name, due_at, created_at, updated_at)
		VALUES (:class_id, :teacher_id, :title, :description, :file_ref, :file_name, :due_at, :created_at, :updated_at)
		RETURNING id`, toAssignmentRow(a))
	if err != nil {
		return classroom.Assignment{}, trapErr(err, "inserting assignment", nil)
	}
	a.ID = id
	return a, nil
}

func (s *Store) GetAssignmentByID(ctx context.Context, id int) (classroom.Assignment, error) {
	var row assignmentRow
	if err := s.get(ctx, &row, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id); err != nil {
		return classroom.Assignment{}, trapErr(err, "finding assignment by ID", classroom.ErrAssignmentNotFound)
	}
	return row.assignment(), nil
}

func (s *Store) UpdateAssignment(ctx context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	ar := toAssignmentRow(a)
	var row assignmentRow
	err := s.get(ctx, &row, `
		UPDATE assignments
		SET title = $2, description = $3, file_ref = $4, file_name = $5, due_at = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+assignmentColumns,
		ar.ID, ar.Title, ar.Description, ar.FileRef, ar.FileName, ar.DueAt, ar.UpdatedAt)
	if err != nil {
		return classroom.Assignment{}, trapErr(err, "updating assignment", classroom.ErrAssignmentNotFound)
	}
	return row.assignment(), nil
}

func (s *Store) DeleteAssignment(ctx context.Context, id int) error {
	n, err := s.execute(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	return affected(n, err, "deleting assignment", classroom.ErrAssignmentNotFound)
}

func (s *Store) DeleteAssignmentsByClass(ctx context.Context, classID int) error {
	_, err := s.execute(ctx, `DELETE FROM assignments WHERE class_id = $1`, classID)
	return trapErr(err, "deleting class assignments", nil)
}

func (s *Store) QueryAssignments(ctx context.Context, teacherID int, classIDs []int) ([]classroom.Assignment, error) {
	var ids interface{} // NULL disables the class filter
	if classIDs != nil {
		ids = pq.Array(toInt64s(classIDs))
	}
	var rows []assignmentRow
	err := s.selectAll(ctx, &rows, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE ($1 = 0 OR teacher_id = $1) AND ($2::int[] IS NULL OR class_id = ANY($2::int[]))
		ORDER BY created_at DESC, id DESC`, teacherID, ids)
	if err != nil {
		return nil, trapErr(err, "querying assignments", nil)
	}
	as := make([]classroom.Assignment, 0, len(rows))
	for _, r := range rows {
		as = append(as, r.assignment())
	}
	return as, nil
}

// Submissions

func (s *Store) CreateSubmission(ctx context.Context, sub classroom.Submission) (classroom.Submission, error) {
	id, err := s.insert(ctx, `
		INSERT INTO submissions (assignment_id, student_id, file_ref, file_name, submitted_at, feedback, feedback_at)
		VALUES (:assignment_id, :student_id, :file_ref, :file_name, :submitted_at, :feedback, :feedback_at)
		RETURNING id`, toSubmissionRow(sub))
	if err != nil {
		return classroom.Submission{}, trapErr(err, "inserting submission", nil)
	}
	sub.ID = id
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, assignmentID, studentID int) (classroom.Submission, error) {
	var row submissionRow
	err := s.get(ctx, &row, `SELECT `+submissionColumns+` FROM submissions WHERE assignment_id = $1 AND student_id = $2`,
		assignmentID, studentID)
	if err != nil {
		return classroom.Submission{}, trapErr(err, "finding submission", classroom.ErrSubmissionNotFound)
	}
	return row.submission(), nil
}

func (s *Store) GetSubmissionByID(ctx context.Context, id int) (classroom.Submission, error) {
	var row submissionRow
	if err := s.get(ctx, &row, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id); err != nil {
		return classroom.Submission{}, trapErr(err, "finding submission by ID", classroom.ErrSubmissionNotFound)
	}
	return row.submission(), nil
}

func (s *Store) UpdateSubmission(ctx context.Context, sub classroom.Submission) (classroom.Submission, error) {
	sr := toSubmissionRow(sub)
	var row submissionRow
	err := s.get(ctx, &row, `
		UPDATE submissions
		SET file_ref = $2, file_name = $3, submitted_at = $4, feedback = $5, feedback_at = $6
		WHERE id = $1
		RETURNING `+submissionColumns,
		sr.ID, sr.FileRef, sr.FileName, sr.SubmittedAt, sr.Feedback, sr.FeedbackAt)
	if err != nil {
		return classroom.Submission{}, trapErr(err, "updating submission", classroom.ErrSubmissionNotFound)
	}
	return row.submission(), nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id int) error {
	n, err := s.execute(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	return affected(n, err, "deleting submission", classroom.ErrSubmissionNotFound)
}

func (s *Store) DeleteSubmissionsByAssignment(ctx context.Context, assignmentIDs ...int) error {
	_, err := s.execute(ctx, `DELETE FROM submissions WHERE assignment_id = ANY($1)`, pq.Array(toInt64s(assignmentIDs)))
	return trapErr(err, "deleting submissions", nil)
}

func (s *Store) QuerySubmissionsByAssignment(ctx context.Context, assignmentIDs ...int) ([]classroom.Submission, error) {
	var rows []submissionRow
	err := s.selectAll(ctx, &rows, `SELECT `+submissionColumns+` FROM submissions WHERE assignment_id = ANY($1) ORDER BY id`,
		pq.Array(toInt64s(assignmentIDs)))
	if err != nil {
		return nil, trapErr(err, "querying submissions", nil)
	}
	subs := make([]classroom.Submission, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.submission())
	}
	return subs, nil
}

// batch.Repository

func (s *Store) QueryClassNamesByIDs(ctx context.Context, ids []int) (map[int]string, error) {
	var rows []struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}
	if err := s.selectAll(ctx, &rows, `SELECT id, name FROM classes WHERE id = ANY($1)`, pq.Array(toInt64s(ids))); err != nil {
		return nil, trapErr(err, "querying class names", nil)
	}
	names := make(map[int]string, len(rows))
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}

func (s *Store) QuerySubmittedAssignmentIDs(ctx context.Context, studentID int) ([]int, error) {
	var ids []int
	err := s.selectAll(ctx, &ids, `SELECT assignment_id FROM submissions WHERE student_id = $1 ORDER BY assignment_id`, studentID)
	if err != nil {
		return nil, trapErr(err, "querying submitted assignment IDs", nil)
	}
	return ids, nil
}
