package classroom

import (
	"context"
	"net/mail"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/user"
)

const (
	assignmentFilesDir = "assignments"
	submissionFilesDir = "submissions"
	dueAtLayout        = "Mon, 02 Jan 2006 15:04 MST"
)

// AssignmentService runs the assignment & submission workflow.
//
// Per (assignment, student) a submission is either absent or present:
// Submit creates it, UpdateSubmission replaces its file, Unsubmit removes it.
// Submit and UpdateSubmission are refused once the assignment's deadline has passed.
type AssignmentService struct {
	base
}

func NewAssignmentService(opts Options) *AssignmentService {
	return &AssignmentService{base: newBase(opts)}
}

type newAssignmentMailData struct {
	StudentName string
	TeacherName string
	ClassName   string
	Title       string
	DueAt       string
}

// CreateAssignment adds an assignment to one of teacher's classes and notifies its students.
func (svc *AssignmentService) CreateAssignment(ctx context.Context, teacher user.User, na NewAssignment) (Assignment, error) {
	cls, err := svc.getOwnedClass(ctx, teacher, na.ClassID)
	if err != nil {
		return Assignment{}, err
	}

	now := svc.clock()
	a := Assignment{
		ClassID:     cls.ID,
		TeacherID:   cls.TeacherID,
		Title:       na.Title,
		Description: na.Description,
		DueAt:       na.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if na.File != nil {
		if a.FileRef, err = svc.saveFile(ctx, assignmentFilesDir, *na.File); err != nil {
			return Assignment{}, err
		}
		a.FileName = core.CleanFileName(na.File.Name)
	}

	created, err := svc.repo.CreateAssignment(ctx, a)
	if err != nil {
		svc.deleteFiles(a.FileRef)
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}
	svc.invalidate(cache.AssignmentList)
	svc.notifyStudents(ctx, teacher, cls, created)
	return created, nil
}

// notifyStudents emails every student of cls about a new assignment. Failures are logged.
func (svc *AssignmentService) notifyStudents(ctx context.Context, teacher user.User, cls Class, a Assignment) {
	if svc.email == nil {
		return
	}
	memberships, err := svc.repo.QueryMemberships(ctx, cls.ID)
	if err != nil {
		svc.log.Warn("loading students to notify", err, teacher)
		return
	}
	if len(memberships) == 0 {
		return
	}
	ids := make([]int, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.StudentID)
	}
	students, err := svc.loader.UsersByIDs(ctx, ids)
	if err != nil {
		svc.log.Warn("loading students to notify", err, teacher)
		return
	}

	var dueAt string
	if a.DueAt != nil {
		dueAt = a.DueAt.Format(dueAtLayout)
	}
	messages := make([]*core.EmailMessage, 0, len(students))
	for _, id := range ids {
		student, ok := students[id]
		if !ok || student.Email == "" {
			continue
		}
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{{Name: student.Name, Address: student.Email}},
			Subject:      "New assignment: " + a.Title,
			TemplateName: "new_assignment",
			TemplateData: newAssignmentMailData{
				StudentName: displayName(student),
				TeacherName: displayName(teacher),
				ClassName:   cls.Name,
				Title:       a.Title,
				DueAt:       dueAt,
			},
		})
	}
	svc.email.SendMessages(messages...)
}

// UpdateAssignment edits one of teacher's assignments. A new file replaces the old one.
func (svc *AssignmentService) UpdateAssignment(ctx context.Context, teacher user.User, id int, ua UpdateAssignment) (Assignment, error) {
	a, err := svc.getOwnedAssignment(ctx, teacher, id)
	if err != nil {
		return Assignment{}, err
	}

	if ua.Title != "" {
		a.Title = ua.Title
	}
	if ua.Description != nil {
		a.Description = *ua.Description
	}
	if ua.ClearDueAt {
		a.DueAt = nil
	} else if ua.DueAt != nil {
		a.DueAt = ua.DueAt
	}
	oldRef := ""
	if ua.File != nil {
		ref, err := svc.saveFile(ctx, assignmentFilesDir, *ua.File)
		if err != nil {
			return Assignment{}, err
		}
		oldRef, a.FileRef, a.FileName = a.FileRef, ref, core.CleanFileName(ua.File.Name)
	}
	a.UpdatedAt = svc.clock()

	updated, err := svc.repo.UpdateAssignment(ctx, a)
	if err != nil {
		if ua.File != nil {
			svc.deleteFiles(a.FileRef)
		}
		return Assignment{}, errors.Wrap(err, "updating assignment")
	}
	svc.invalidate(cache.AssignmentList)
	svc.deleteFiles(oldRef)
	return updated, nil
}

// DeleteAssignment removes one of teacher's assignments along with its submissions, in one transaction.
func (svc *AssignmentService) DeleteAssignment(ctx context.Context, teacher user.User, id int) error {
	a, err := svc.getOwnedAssignment(ctx, teacher, id)
	if err != nil {
		return err
	}

	files := []string{a.FileRef}
	err = svc.repo.RunInTx(ctx, func(tx Repository) error {
		subs, err := tx.QuerySubmissionsByAssignment(ctx, id)
		if err != nil {
			return errors.Wrap(err, "querying submissions")
		}
		for _, s := range subs {
			files = append(files, s.FileRef)
		}
		if err = tx.DeleteSubmissionsByAssignment(ctx, id); err != nil {
			return errors.Wrap(err, "deleting submissions")
		}
		return errors.Wrap(tx.DeleteAssignment(ctx, id), "deleting assignment")
	})
	if err != nil {
		return err
	}

	svc.invalidate(cache.AssignmentList, cache.SubmittedIDs)
	svc.deleteFiles(files...)
	return nil
}

// GetAssignments lists teacher's assignments, newest first.
// filter.StudentEmail narrows the list to the classes of that student; an unknown email is ignored.
func (svc *AssignmentService) GetAssignments(ctx context.Context, teacher user.User, filter AssignmentFilter) ([]AssignmentView, error) {
	if !teacher.IsTeacher() {
		return nil, ErrForbidden
	}
	filter.Clean()

	key := cache.Join(cache.TeacherKey(teacher.ID), cache.Field("class", filter.ClassID), cache.Field("student", filter.StudentEmail))
	return readWithRetry(func(fresh bool) ([]AssignmentView, error) {
		v, gen, ok := svc.cached(cache.AssignmentList, key, fresh)
		if ok {
			return cloneSlice(v.([]AssignmentView)), nil
		}

		var classIDs []int
		if filter.ClassID != nil {
			classIDs = []int{*filter.ClassID}
		}
		if filter.StudentEmail != "" {
			ids, found, err := svc.studentClassIDs(ctx, filter.StudentEmail)
			if err != nil {
				return nil, err
			}
			if found {
				if classIDs != nil {
					ids = intersect(classIDs, ids)
				}
				if len(ids) == 0 {
					views := make([]AssignmentView, 0)
					svc.store(cache.AssignmentList, key, gen, views)
					return views, nil
				}
				classIDs = ids
			}
		}

		assignments, err := svc.repo.QueryAssignments(ctx, teacher.ID, classIDs)
		if err != nil {
			return nil, errors.Wrap(err, "querying assignments")
		}
		views, err := svc.assignmentViews(ctx, svc.loaderFor(fresh), assignments)
		if err != nil {
			return nil, err
		}
		svc.store(cache.AssignmentList, key, gen, cloneSlice(views))
		return views, nil
	})
}

// studentClassIDs returns the classes of the student holding email, and whether such a student exists.
func (svc *AssignmentService) studentClassIDs(ctx context.Context, email string) ([]int, bool, error) {
	if svc.users == nil {
		return nil, false, nil
	}
	student, err := svc.users.GetUserByUsernameOrEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) || (err == nil && student.Email != email) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "finding student by email")
	}
	classes, err := svc.repo.QueryClassesByStudent(ctx, student.ID)
	if err != nil {
		return nil, false, errors.Wrap(err, "querying student classes")
	}
	ids := make([]int, 0, len(classes))
	for _, cls := range classes {
		ids = append(ids, cls.ID)
	}
	return ids, true, nil
}

// GetStudentAssignments lists the assignments of student's classes, newest first.
// A non-nil submitted keeps only the assignments whose submission state matches.
func (svc *AssignmentService) GetStudentAssignments(ctx context.Context, student user.User, submitted *bool) ([]AssignmentView, error) {
	if !student.IsStudent() {
		return nil, ErrForbidden
	}

	key := cache.Join(cache.StudentKey(student.ID), cache.Field("submitted", submitted))
	return readWithRetry(func(fresh bool) ([]AssignmentView, error) {
		v, gen, ok := svc.cached(cache.AssignmentList, key, fresh)
		if ok {
			return cloneSlice(v.([]AssignmentView)), nil
		}

		classes, err := svc.repo.QueryClassesByStudent(ctx, student.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying student classes")
		}
		views := make([]AssignmentView, 0)
		if len(classes) == 0 {
			svc.store(cache.AssignmentList, key, gen, views)
			return views, nil
		}
		classIDs := make([]int, 0, len(classes))
		for _, cls := range classes {
			classIDs = append(classIDs, cls.ID)
		}

		assignments, err := svc.repo.QueryAssignments(ctx, 0, classIDs)
		if err != nil {
			return nil, errors.Wrap(err, "querying assignments")
		}
		loader := svc.loaderFor(fresh)
		all, err := svc.assignmentViews(ctx, loader, assignments)
		if err != nil {
			return nil, err
		}
		done, err := loader.SubmittedAssignmentIDsByStudent(ctx, student.ID)
		if err != nil {
			return nil, errors.Wrap(err, "loading submitted assignments")
		}

		for _, view := range all {
			_, ok := done[view.ID]
			if submitted != nil && ok != *submitted {
				continue
			}
			view.Submitted = &ok
			views = append(views, view)
		}
		svc.store(cache.AssignmentList, key, gen, cloneSlice(views))
		return views, nil
	})
}

// assignmentViews adds class names with one batch.
func (svc *AssignmentService) assignmentViews(ctx context.Context, loader *batch.Loader, assignments []Assignment) ([]AssignmentView, error) {
	views := make([]AssignmentView, 0, len(assignments))
	if len(assignments) == 0 {
		return views, nil
	}
	classIDs := make([]int, 0, len(assignments))
	for _, a := range assignments {
		classIDs = append(classIDs, a.ClassID)
	}
	names, err := loader.ClassNamesByIDs(ctx, classIDs)
	if err != nil {
		return nil, errors.Wrap(err, "loading class names")
	}

	for _, a := range assignments {
		name, ok := names[a.ClassID]
		if !ok {
			name = unknownClassName
		}
		views = append(views, AssignmentView{Assignment: a, ClassName: name})
	}
	return views, nil
}

// GetAssignmentStudents lists every student of the assignment's class with their submission state.
func (svc *AssignmentService) GetAssignmentStudents(ctx context.Context, teacher user.User, assignmentID int) ([]AssignmentStudent, error) {
	a, err := svc.getOwnedAssignment(ctx, teacher, assignmentID)
	if err != nil {
		return nil, err
	}

	key := "students:" + strconv.Itoa(a.ID)
	return readWithRetry(func(fresh bool) ([]AssignmentStudent, error) {
		v, gen, ok := svc.cached(cache.AssignmentList, key, fresh)
		if ok {
			return cloneSlice(v.([]AssignmentStudent)), nil
		}

		memberships, err := svc.repo.QueryMemberships(ctx, a.ClassID)
		if err != nil {
			return nil, errors.Wrap(err, "querying memberships")
		}
		students := make([]AssignmentStudent, 0, len(memberships))
		if len(memberships) == 0 {
			svc.store(cache.AssignmentList, key, gen, students)
			return students, nil
		}
		subs, err := svc.repo.QuerySubmissionsByAssignment(ctx, a.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying submissions")
		}
		byStudent := make(map[int]Submission, len(subs))
		for _, s := range subs {
			byStudent[s.StudentID] = s
		}
		ids := make([]int, 0, len(memberships))
		for _, m := range memberships {
			ids = append(ids, m.StudentID)
		}
		users, err := svc.loaderFor(fresh).UsersByIDs(ctx, ids)
		if err != nil {
			return nil, errors.Wrap(err, "loading students")
		}

		for _, id := range ids {
			usr, ok := users[id]
			if !ok {
				continue
			}
			st := AssignmentStudent{StudentID: usr.ID, Name: usr.Name, Username: usr.Username, Email: usr.Email}
			if s, ok := byStudent[id]; ok {
				sid, at := s.ID, s.SubmittedAt
				st.Submitted = true
				st.SubmissionID = &sid
				st.FileName = s.FileName
				st.SubmittedAt = &at
				st.Feedback = s.Feedback
			}
			students = append(students, st)
		}
		svc.store(cache.AssignmentList, key, gen, cloneSlice(students))
		return students, nil
	})
}

// studentAssignment returns the assignment if student is a member of its class.
func (svc *AssignmentService) studentAssignment(ctx context.Context, student user.User, assignmentID int) (Assignment, error) {
	if !student.IsStudent() {
		return Assignment{}, ErrForbidden
	}
	a, err := svc.getAssignment(ctx, assignmentID)
	if err != nil {
		return Assignment{}, err
	}
	ok, err := svc.policy.IsAssignmentAccessible(ctx, student, a)
	if err != nil {
		return Assignment{}, errors.Wrap(err, "checking class membership")
	}
	if !ok {
		return Assignment{}, ErrForbidden
	}
	return a, nil
}

// Submit hands in student's file for an assignment.
func (svc *AssignmentService) Submit(ctx context.Context, student user.User, assignmentID int, up core.Upload) (Submission, error) {
	a, err := svc.studentAssignment(ctx, student, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	if _, err = svc.repo.GetSubmission(ctx, a.ID, student.ID); err == nil {
		return Submission{}, ErrAlreadySubmitted
	} else if !errors.Is(err, ErrSubmissionNotFound) {
		return Submission{}, errors.Wrap(err, "getting submission")
	}
	now := svc.clock()
	if a.DeadlinePassed(now) {
		return Submission{}, ErrDeadlinePassed
	}

	ref, err := svc.saveFile(ctx, submissionFilesDir, up)
	if err != nil {
		return Submission{}, err
	}
	sub, err := svc.repo.CreateSubmission(ctx, Submission{
		AssignmentID: a.ID,
		StudentID:    student.ID,
		FileRef:      ref,
		FileName:     core.CleanFileName(up.Name),
		SubmittedAt:  now,
	})
	if err != nil {
		svc.deleteFiles(ref)
		return Submission{}, errors.Wrap(err, "creating submission")
	}
	svc.invalidate(cache.AssignmentList, cache.SubmittedIDs)
	return sub, nil
}

// Unsubmit withdraws student's submission. It is allowed after the deadline.
func (svc *AssignmentService) Unsubmit(ctx context.Context, student user.User, assignmentID int) error {
	a, err := svc.studentAssignment(ctx, student, assignmentID)
	if err != nil {
		return err
	}
	sub, err := svc.repo.GetSubmission(ctx, a.ID, student.ID)
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	if err = svc.repo.DeleteSubmission(ctx, sub.ID); err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	svc.invalidate(cache.AssignmentList, cache.SubmittedIDs)
	svc.deleteFiles(sub.FileRef)
	return nil
}

// UpdateSubmission replaces the file of student's existing submission.
func (svc *AssignmentService) UpdateSubmission(ctx context.Context, student user.User, assignmentID int, up core.Upload) (Submission, error) {
	a, err := svc.studentAssignment(ctx, student, assignmentID)
	if err != nil {
		return Submission{}, err
	}
	sub, err := svc.repo.GetSubmission(ctx, a.ID, student.ID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "getting submission")
	}
	now := svc.clock()
	if a.DeadlinePassed(now) {
		return Submission{}, ErrDeadlinePassed
	}

	ref, err := svc.saveFile(ctx, submissionFilesDir, up)
	if err != nil {
		return Submission{}, err
	}
	oldRef := sub.FileRef
	sub.FileRef, sub.FileName, sub.SubmittedAt = ref, core.CleanFileName(up.Name), now
	updated, err := svc.repo.UpdateSubmission(ctx, sub)
	if err != nil {
		svc.deleteFiles(ref)
		return Submission{}, errors.Wrap(err, "updating submission")
	}
	svc.invalidate(cache.AssignmentList, cache.SubmittedIDs)
	svc.deleteFiles(oldRef)
	return updated, nil
}

// GetSubmission returns student's own submission for an assignment.
func (svc *AssignmentService) GetSubmission(ctx context.Context, student user.User, assignmentID int) (SubmissionView, error) {
	a, err := svc.studentAssignment(ctx, student, assignmentID)
	if err != nil {
		return SubmissionView{}, err
	}
	sub, err := svc.repo.GetSubmission(ctx, a.ID, student.ID)
	if err != nil {
		return SubmissionView{}, errors.Wrap(err, "getting submission")
	}
	return SubmissionView{
		Submission:            sub,
		AssignmentTitle:       a.Title,
		AssignmentDescription: a.Description,
		DueAt:                 a.DueAt,
	}, nil
}

// GiveFeedback sets the teacher's feedback on a submission to one of their assignments.
func (svc *AssignmentService) GiveFeedback(ctx context.Context, teacher user.User, submissionID int, fb Feedback) (Submission, error) {
	sub, err := svc.repo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "getting submission")
	}
	if _, err = svc.getOwnedAssignment(ctx, teacher, sub.AssignmentID); err != nil {
		return Submission{}, err
	}

	now := svc.clock()
	sub.Feedback = &fb.Feedback
	sub.FeedbackAt = &now
	updated, err := svc.repo.UpdateSubmission(ctx, sub)
	if err != nil {
		return Submission{}, errors.Wrap(err, "saving feedback")
	}
	svc.invalidate(cache.AssignmentList, cache.SubmittedIDs)
	return updated, nil
}

// DownloadSubmission opens a submission's file as "<Student>-<Title><ext>".
// Only the assignment's owner and the submitting student may download it.
func (svc *AssignmentService) DownloadSubmission(ctx context.Context, usr user.User, submissionID int) (Download, error) {
	sub, err := svc.repo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return Download{}, errors.Wrap(err, "getting submission")
	}
	a, err := svc.getAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return Download{}, err
	}
	isSubmitter := usr.IsStudent() && usr.ID == sub.StudentID
	if !isSubmitter && !IsAssignmentOwner(usr, a) {
		return Download{}, ErrForbidden
	}

	students, err := svc.loader.UsersByIDs(ctx, []int{sub.StudentID})
	if err != nil {
		return Download{}, errors.Wrap(err, "loading student")
	}
	studentName := "Unknown"
	if student, ok := students[sub.StudentID]; ok {
		studentName = displayName(student)
	}

	content, err := svc.openFile(ctx, sub.FileRef)
	if err != nil {
		return Download{}, errors.Wrap(err, "opening submission file")
	}
	return Download{Name: downloadName(sub.FileName, studentName, a.Title), Content: content}, nil
}

// DownloadAssignmentFile opens an assignment's instructions as "<Title>-instructions<ext>".
func (svc *AssignmentService) DownloadAssignmentFile(ctx context.Context, usr user.User, assignmentID int) (Download, error) {
	a, err := svc.getAssignment(ctx, assignmentID)
	if err != nil {
		return Download{}, err
	}
	ok, err := svc.policy.IsAssignmentAccessible(ctx, usr, a)
	if err != nil {
		return Download{}, errors.Wrap(err, "checking class membership")
	}
	if !ok {
		return Download{}, ErrForbidden
	}
	if !a.HasFile() {
		return Download{}, ErrFileNotFound
	}

	content, err := svc.openFile(ctx, a.FileRef)
	if err != nil {
		return Download{}, errors.Wrap(err, "opening assignment file")
	}
	return Download{Name: downloadName(a.FileName, a.Title, "instructions"), Content: content}, nil
}

func intersect(a, b []int) []int {
	set := make(map[int]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]int, 0)
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
