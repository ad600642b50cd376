package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/darasa/core/classroom"
)

// Classes

func (db *DB) CreateClass(_ context.Context, cls classroom.Class) (classroom.Class, error) {
	if err := db.track("CreateClass"); err != nil {
		return classroom.Class{}, err
	}
	db.lock()
	defer db.unlock()

	for _, c := range db.t.classes {
		if c.Code == cls.Code {
			return classroom.Class{}, classroom.ErrClassCodeExists
		}
	}
	db.t.classSeq++
	cls.ID = db.t.classSeq
	db.t.classes[cls.ID] = cls
	return cls, nil
}

func (db *DB) GetClassByID(_ context.Context, id int) (classroom.Class, error) {
	if err := db.track("GetClassByID"); err != nil {
		return classroom.Class{}, err
	}
	db.rlock()
	defer db.runlock()

	if cls, ok := db.t.classes[id]; ok {
		return cls, nil
	}
	return classroom.Class{}, classroom.ErrClassNotFound
}

func (db *DB) GetClassByCode(_ context.Context, code string) (classroom.Class, error) {
	if err := db.track("GetClassByCode"); err != nil {
		return classroom.Class{}, err
	}
	db.rlock()
	defer db.runlock()

	for _, cls := range db.t.classes {
		if cls.Code == code {
			return cls, nil
		}
	}
	return classroom.Class{}, classroom.ErrClassNotFound
}

func (db *DB) ClassCodeExists(_ context.Context, code string) (bool, error) {
	if err := db.track("ClassCodeExists"); err != nil {
		return false, err
	}
	db.rlock()
	defer db.runlock()

	for _, cls := range db.t.classes {
		if cls.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (db *DB) QueryClassesByTeacher(_ context.Context, teacherID int) ([]classroom.Class, error) {
	if err := db.track("QueryClassesByTeacher"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	var classes []classroom.Class
	for _, cls := range db.t.classes {
		if cls.TeacherID == teacherID {
			classes = append(classes, cls)
		}
	}
	sortClasses(classes)
	return classes, nil
}

func (db *DB) QueryClassesByStudent(_ context.Context, studentID int) ([]classroom.Class, error) {
	if err := db.track("QueryClassesByStudent"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	var classes []classroom.Class
	for key := range db.t.memberships {
		if key.studentID == studentID {
			if cls, ok := db.t.classes[key.classID]; ok {
				classes = append(classes, cls)
			}
		}
	}
	sortClasses(classes)
	return classes, nil
}

func (db *DB) DeleteClass(_ context.Context, id int) error {
	if err := db.track("DeleteClass"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	if _, ok := db.t.classes[id]; !ok {
		return classroom.ErrClassNotFound
	}
	delete(db.t.classes, id)
	return nil
}

// newest first
func sortClasses(classes []classroom.Class) {
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].CreatedAt.Equal(classes[j].CreatedAt) {
			return classes[i].ID > classes[j].ID
		}
		return classes[i].CreatedAt.After(classes[j].CreatedAt)
	})
}

// Memberships

func (db *DB) CreateMembership(_ context.Context, m classroom.Membership) error {
	if err := db.track("CreateMembership"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	key := membershipKey{m.ClassID, m.StudentID}
	if _, ok := db.t.memberships[key]; ok {
		return classroom.ErrAlreadyMember
	}
	db.t.memberships[key] = m
	return nil
}

func (db *DB) DeleteMembership(_ context.Context, classID, studentID int) error {
	if err := db.track("DeleteMembership"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	key := membershipKey{classID, studentID}
	if _, ok := db.t.memberships[key]; !ok {
		return classroom.ErrMemberNotFound
	}
	delete(db.t.memberships, key)
	return nil
}

func (db *DB) DeleteMembershipsByClass(_ context.Context, classID int) error {
	if err := db.track("DeleteMembershipsByClass"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	for key := range db.t.memberships {
		if key.classID == classID {
			delete(db.t.memberships, key)
		}
	}
	return nil
}

func (db *DB) IsMember(_ context.Context, classID, studentID int) (bool, error) {
	if err := db.track("IsMember"); err != nil {
		return false, err
	}
	db.rlock()
	defer db.runlock()

	_, ok := db.t.memberships[membershipKey{classID, studentID}]
	return ok, nil
}

func (db *DB) QueryMemberships(_ context.Context, classIDs ...int) ([]classroom.Membership, error) {
	if err := db.track("QueryMemberships"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	wanted := intSet(classIDs)
	var ms []classroom.Membership
	for key, m := range db.t.memberships {
		if _, ok := wanted[key.classID]; ok {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			if ms[i].ClassID == ms[j].ClassID {
				return ms[i].StudentID < ms[j].StudentID
			}
			return ms[i].ClassID < ms[j].ClassID
		}
		return ms[i].JoinedAt.Before(ms[j].JoinedAt)
	})
	return ms, nil
}

func (db *DB) CountMembers(_ context.Context, classIDs ...int) (map[int]int, error) {
	if err := db.track("CountMembers"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	wanted := intSet(classIDs)
	counts := make(map[int]int)
	for key := range db.t.memberships {
		if _, ok := wanted[key.classID]; ok {
			counts[key.classID]++
		}
	}
	return counts, nil
}

// Assignments

func (db *DB) CreateAssignment(_ context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	if err := db.track("CreateAssignment"); err != nil {
		return classroom.Assignment{}, err
	}
	db.lock()
	defer db.unlock()

	if _, ok := db.t.classes[a.ClassID]; !ok {
		return classroom.Assignment{}, classroom.ErrClassNotFound
	}
	db.t.assignmentSeq++
	a.ID = db.t.assignmentSeq
	db.t.assignments[a.ID] = a
	return a, nil
}

func (db *DB) GetAssignmentByID(_ context.Context, id int) (classroom.Assignment, error) {
	if err := db.track("GetAssignmentByID"); err != nil {
		return classroom.Assignment{}, err
	}
	db.rlock()
	defer db.runlock()

	if a, ok := db.t.assignments[id]; ok {
		return a, nil
	}
	return classroom.Assignment{}, classroom.ErrAssignmentNotFound
}

func (db *DB) UpdateAssignment(_ context.Context, a classroom.Assignment) (classroom.Assignment, error) {
	if err := db.track("UpdateAssignment"); err != nil {
		return classroom.Assignment{}, err
	}
	db.lock()
	defer db.unlock()

	orig, ok := db.t.assignments[a.ID]
	if !ok {
		return classroom.Assignment{}, classroom.ErrAssignmentNotFound
	}
	// class_id, teacher_id & created_at are immutable
	orig.Title = a.Title
	orig.Description = a.Description
	orig.FileRef = a.FileRef
	orig.FileName = a.FileName
	orig.DueAt = a.DueAt
	orig.UpdatedAt = a.UpdatedAt
	db.t.assignments[a.ID] = orig
	return orig, nil
}

func (db *DB) DeleteAssignment(_ context.Context, id int) error {
	if err := db.track("DeleteAssignment"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	if _, ok := db.t.assignments[id]; !ok {
		return classroom.ErrAssignmentNotFound
	}
	delete(db.t.assignments, id)
	return nil
}

func (db *DB) DeleteAssignmentsByClass(_ context.Context, classID int) error {
	if err := db.track("DeleteAssignmentsByClass"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	for id, a := range db.t.assignments {
		if a.ClassID == classID {
			delete(db.t.assignments, id)
		}
	}
	return nil
}

func (db *DB) QueryAssignments(_ context.Context, teacherID int, classIDs []int) ([]classroom.Assignment, error) {
	if err := db.track("QueryAssignments"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	wanted := intSet(classIDs)
	var as []classroom.Assignment
	for _, a := range db.t.assignments {
		if teacherID != 0 && a.TeacherID != teacherID {
			continue
		}
		if classIDs != nil {
			if _, ok := wanted[a.ClassID]; !ok {
				continue
			}
		}
		as = append(as, a)
	}
	sort.Slice(as, func(i, j int) bool {
		if as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].ID > as[j].ID
		}
		return as[i].CreatedAt.After(as[j].CreatedAt)
	})
	return as, nil
}

// Submissions

func (db *DB) CreateSubmission(_ context.Context, s classroom.Submission) (classroom.Submission, error) {
	if err := db.track("CreateSubmission"); err != nil {
		return classroom.Submission{}, err
	}
	db.lock()
	defer db.unlock()

	if _, ok := db.t.assignments[s.AssignmentID]; !ok {
		return classroom.Submission{}, classroom.ErrAssignmentNotFound
	}
	for _, other := range db.t.submissions {
		if other.AssignmentID == s.AssignmentID && other.StudentID == s.StudentID {
			return classroom.Submission{}, classroom.ErrAlreadySubmitted
		}
	}
	db.t.submissionSeq++
	s.ID = db.t.submissionSeq
	db.t.submissions[s.ID] = s
	return s, nil
}

func (db *DB) GetSubmission(_ context.Context, assignmentID, studentID int) (classroom.Submission, error) {
	if err := db.track("GetSubmission"); err != nil {
		return classroom.Submission{}, err
	}
	db.rlock()
	defer db.runlock()

	for _, s := range db.t.submissions {
		if s.AssignmentID == assignmentID && s.StudentID == studentID {
			return s, nil
		}
	}
	return classroom.Submission{}, classroom.ErrSubmissionNotFound
}

func (db *DB) GetSubmissionByID(_ context.Context, id int) (classroom.Submission, error) {
	if err := db.track("GetSubmissionByID"); err != nil {
		return classroom.Submission{}, err
	}
	db.rlock()
	defer db.runlock()

	if s, ok := db.t.submissions[id]; ok {
		return s, nil
	}
	return classroom.Submission{}, classroom.ErrSubmissionNotFound
}

func (db *DB) UpdateSubmission(_ context.Context, s classroom.Submission) (classroom.Submission, error) {
	if err := db.track("UpdateSubmission"); err != nil {
		return classroom.Submission{}, err
	}
	db.lock()
	defer db.unlock()

	orig, ok := db.t.submissions[s.ID]
	if !ok {
		return classroom.Submission{}, classroom.ErrSubmissionNotFound
	}
	orig.FileRef = s.FileRef
	orig.FileName = s.FileName
	orig.SubmittedAt = s.SubmittedAt
	orig.Feedback = s.Feedback
	orig.FeedbackAt = s.FeedbackAt
	db.t.submissions[s.ID] = orig
	return orig, nil
}

func (db *DB) DeleteSubmission(_ context.Context, id int) error {
	if err := db.track("DeleteSubmission"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	if _, ok := db.t.submissions[id]; !ok {
		return classroom.ErrSubmissionNotFound
	}
	delete(db.t.submissions, id)
	return nil
}

func (db *DB) DeleteSubmissionsByAssignment(_ context.Context, assignmentIDs ...int) error {
	if err := db.track("DeleteSubmissionsByAssignment"); err != nil {
		return err
	}
	db.lock()
	defer db.unlock()

	wanted := intSet(assignmentIDs)
	for id, s := range db.t.submissions {
		if _, ok := wanted[s.AssignmentID]; ok {
			delete(db.t.submissions, id)
		}
	}
	return nil
}

func (db *DB) QuerySubmissionsByAssignment(_ context.Context, assignmentIDs ...int) ([]classroom.Submission, error) {
	if err := db.track("QuerySubmissionsByAssignment"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	wanted := make(map[int]struct{}, len(assignmentIDs))
	for _, id := range assignmentIDs {
		wanted[id] = struct{}{}
	}
	var subs []classroom.Submission
	for _, s := range db.t.submissions {
		if _, ok := wanted[s.AssignmentID]; ok {
			subs = append(subs, s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

// batch.Repository

func (db *DB) QueryClassNamesByIDs(_ context.Context, ids []int) (map[int]string, error) {
	if err := db.track("QueryClassNamesByIDs"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	names := make(map[int]string, len(ids))
	for _, id := range ids {
		if cls, ok := db.t.classes[id]; ok {
			names[id] = cls.Name
		}
	}
	return names, nil
}

func (db *DB) QuerySubmittedAssignmentIDs(_ context.Context, studentID int) ([]int, error) {
	if err := db.track("QuerySubmittedAssignmentIDs"); err != nil {
		return nil, err
	}
	db.rlock()
	defer db.runlock()

	var ids []int
	for _, s := range db.t.submissions {
		if s.StudentID == studentID {
			ids = append(ids, s.AssignmentID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func intSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
