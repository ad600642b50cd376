package classroom

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/batch"
	"github.com/trezcool/darasa/core/cache"
	"github.com/trezcool/darasa/core/user"
)

const maxCodeAttempts = 5

var errCodeGeneration = errors.New("could not generate a unique class code")

// ClassService manages classes and their rosters.
type ClassService struct {
	base
	newCode func() string // mockable
}

func NewClassService(opts Options) *ClassService {
	return &ClassService{base: newBase(opts), newCode: newClassCode}
}

func newClassCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// CreateClass creates a class owned by teacher with a fresh join code.
func (svc *ClassService) CreateClass(ctx context.Context, teacher user.User, nc NewClass) (Class, error) {
	if !teacher.IsTeacher() {
		return Class{}, ErrForbidden
	}

	cls := Class{
		Name:        nc.Name,
		Description: nc.Description,
		TeacherID:   teacher.ID,
		CreatedAt:   svc.clock(),
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		cls.Code = svc.newCode()
		exists, err := svc.repo.ClassCodeExists(ctx, cls.Code)
		if err != nil {
			return Class{}, errors.Wrap(err, "checking class code")
		}
		if exists {
			continue
		}

		created, err := svc.repo.CreateClass(ctx, cls)
		if errors.Is(err, ErrClassCodeExists) {
			continue // lost a race on the code
		}
		if err != nil {
			return Class{}, errors.Wrap(err, "creating class")
		}
		svc.invalidate(cache.ClassesByTeacher)
		return created, nil
	}
	return Class{}, core.Unavailable(errCodeGeneration, "creating class")
}

// DeleteClass removes a class with its memberships, assignments and submissions. Only the owner may do it.
func (svc *ClassService) DeleteClass(ctx context.Context, teacher user.User, classID int) error {
	if _, err := svc.getOwnedClass(ctx, teacher, classID); err != nil {
		return err
	}

	var files []string
	err := svc.repo.RunInTx(ctx, func(tx Repository) error {
		assignments, err := tx.QueryAssignments(ctx, 0, []int{classID})
		if err != nil {
			return errors.Wrap(err, "querying class assignments")
		}
		ids := make([]int, 0, len(assignments))
		for _, a := range assignments {
			ids = append(ids, a.ID)
			files = append(files, a.FileRef)
		}

		if len(ids) > 0 {
			subs, err := tx.QuerySubmissionsByAssignment(ctx, ids...)
			if err != nil {
				return errors.Wrap(err, "querying submissions")
			}
			for _, s := range subs {
				files = append(files, s.FileRef)
			}
			if err = tx.DeleteSubmissionsByAssignment(ctx, ids...); err != nil {
				return errors.Wrap(err, "deleting submissions")
			}
		}
		if err = tx.DeleteAssignmentsByClass(ctx, classID); err != nil {
			return errors.Wrap(err, "deleting assignments")
		}
		if err = tx.DeleteMembershipsByClass(ctx, classID); err != nil {
			return errors.Wrap(err, "deleting memberships")
		}
		return errors.Wrap(tx.DeleteClass(ctx, classID), "deleting class")
	})
	if err != nil {
		return err
	}

	svc.invalidate(classroomPartitions...)
	svc.deleteFiles(files...)
	return nil
}

// JoinClass enrolls student in the class holding jc's code.
func (svc *ClassService) JoinClass(ctx context.Context, student user.User, jc JoinClass) (Class, error) {
	if !student.IsStudent() {
		return Class{}, ErrForbidden
	}
	cls, err := svc.repo.GetClassByCode(ctx, jc.Code)
	if err != nil {
		return Class{}, errors.Wrap(err, "getting class by code")
	}

	m := Membership{ClassID: cls.ID, StudentID: student.ID, JoinedAt: svc.clock()}
	if err = svc.repo.CreateMembership(ctx, m); err != nil {
		return Class{}, errors.Wrap(err, "joining class")
	}
	svc.invalidate(cache.ClassesByStudent, cache.ClassesByTeacher, cache.AssignmentList)
	return cls, nil
}

// RemoveStudent drops a student from a class. Only the owner may do it.
// The student's submissions are kept.
func (svc *ClassService) RemoveStudent(ctx context.Context, teacher user.User, classID, studentID int) error {
	if _, err := svc.getOwnedClass(ctx, teacher, classID); err != nil {
		return err
	}
	if err := svc.repo.DeleteMembership(ctx, classID, studentID); err != nil {
		return errors.Wrap(err, "removing student")
	}
	svc.invalidate(cache.ClassesByStudent, cache.ClassesByTeacher, cache.AssignmentList)
	return nil
}

// GetTeacherClasses lists the classes owned by teacher, newest first.
func (svc *ClassService) GetTeacherClasses(ctx context.Context, teacher user.User) ([]ClassView, error) {
	if !teacher.IsTeacher() {
		return nil, ErrForbidden
	}
	return readWithRetry(func(fresh bool) ([]ClassView, error) {
		key := cache.TeacherKey(teacher.ID)
		v, gen, ok := svc.cached(cache.ClassesByTeacher, key, fresh)
		if ok {
			return cloneSlice(v.([]ClassView)), nil
		}

		classes, err := svc.repo.QueryClassesByTeacher(ctx, teacher.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying teacher classes")
		}
		views, err := svc.classViews(ctx, svc.loaderFor(fresh), classes)
		if err != nil {
			return nil, err
		}
		svc.store(cache.ClassesByTeacher, key, gen, cloneSlice(views))
		return views, nil
	})
}

// GetStudentClasses lists the classes student belongs to, newest first.
func (svc *ClassService) GetStudentClasses(ctx context.Context, student user.User) ([]ClassView, error) {
	if !student.IsStudent() {
		return nil, ErrForbidden
	}
	return readWithRetry(func(fresh bool) ([]ClassView, error) {
		key := cache.StudentKey(student.ID)
		v, gen, ok := svc.cached(cache.ClassesByStudent, key, fresh)
		if ok {
			return cloneSlice(v.([]ClassView)), nil
		}

		classes, err := svc.repo.QueryClassesByStudent(ctx, student.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying student classes")
		}
		views, err := svc.classViews(ctx, svc.loaderFor(fresh), classes)
		if err != nil {
			return nil, err
		}
		svc.store(cache.ClassesByStudent, key, gen, cloneSlice(views))
		return views, nil
	})
}

// classViews adds teacher names and student counts with one batch each.
func (svc *ClassService) classViews(ctx context.Context, loader *batch.Loader, classes []Class) ([]ClassView, error) {
	views := make([]ClassView, 0, len(classes))
	if len(classes) == 0 {
		return views, nil
	}

	classIDs := make([]int, 0, len(classes))
	teacherIDs := make([]int, 0, len(classes))
	for _, cls := range classes {
		classIDs = append(classIDs, cls.ID)
		teacherIDs = append(teacherIDs, cls.TeacherID)
	}
	counts, err := svc.repo.CountMembers(ctx, classIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "counting class members")
	}
	teachers, err := loader.UsersByIDs(ctx, teacherIDs)
	if err != nil {
		return nil, errors.Wrap(err, "loading teachers")
	}

	for _, cls := range classes {
		view := ClassView{Class: cls, StudentCount: counts[cls.ID]}
		if t, ok := teachers[cls.TeacherID]; ok {
			view.TeacherName = displayName(t)
		}
		views = append(views, view)
	}
	return views, nil
}

// GetTeacherStudents lists the students enrolled in teacher's classes, one row per membership.
// filter.ClassID must be one of teacher's classes; filter.Email matches as a case-insensitive substring.
func (svc *ClassService) GetTeacherStudents(ctx context.Context, teacher user.User, filter StudentFilter) ([]ClassStudent, error) {
	if !teacher.IsTeacher() {
		return nil, ErrForbidden
	}
	filter.Clean()

	return readWithRetry(func(fresh bool) ([]ClassStudent, error) {
		classes, err := svc.repo.QueryClassesByTeacher(ctx, teacher.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying teacher classes")
		}
		names := make(map[int]string, len(classes))
		classIDs := make([]int, 0, len(classes))
		for _, cls := range classes {
			if filter.ClassID != nil && cls.ID != *filter.ClassID {
				continue
			}
			names[cls.ID] = cls.Name
			classIDs = append(classIDs, cls.ID)
		}
		if filter.ClassID != nil && len(classIDs) == 0 {
			return nil, ErrForbidden
		}

		students := make([]ClassStudent, 0)
		if len(classIDs) == 0 {
			return students, nil
		}
		memberships, err := svc.repo.QueryMemberships(ctx, classIDs...)
		if err != nil {
			return nil, errors.Wrap(err, "querying memberships")
		}
		studentIDs := make([]int, 0, len(memberships))
		for _, m := range memberships {
			studentIDs = append(studentIDs, m.StudentID)
		}
		users, err := svc.loaderFor(fresh).UsersByIDs(ctx, studentIDs)
		if err != nil {
			return nil, errors.Wrap(err, "loading students")
		}

		for _, m := range memberships {
			usr, ok := users[m.StudentID]
			if !ok {
				continue
			}
			if filter.Email != "" && !strings.Contains(strings.ToLower(usr.Email), filter.Email) {
				continue
			}
			students = append(students, ClassStudent{
				StudentID: usr.ID,
				Name:      usr.Name,
				Username:  usr.Username,
				Email:     usr.Email,
				ClassID:   m.ClassID,
				ClassName: names[m.ClassID],
				JoinedAt:  m.JoinedAt,
			})
		}
		sort.SliceStable(students, func(i, j int) bool { return students[i].Name < students[j].Name })
		return students, nil
	})
}

func cloneSlice[T any](s []T) []T {
	return append(make([]T, 0, len(s)), s...)
}
