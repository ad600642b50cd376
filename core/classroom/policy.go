package classroom

import (
	"context"

	"github.com/trezcool/darasa/core/user"
)

// IsClassOwner reports whether usr is the teacher owning cls.
func IsClassOwner(usr user.User, cls Class) bool {
	return usr.IsTeacher() && usr.ID == cls.TeacherID
}

// IsAssignmentOwner compares against the TeacherID recorded on the assignment, not the class' live owner.
func IsAssignmentOwner(usr user.User, a Assignment) bool {
	return usr.IsTeacher() && usr.ID == a.TeacherID
}

// MembershipLookup answers whether a student belongs to a class.
type MembershipLookup interface {
	IsMember(ctx context.Context, classID, studentID int) (bool, error)
}

// Policy holds the authorization predicates needing a membership lookup.
// Role alone never grants access: students must be members, teachers must be owners.
type Policy struct {
	members MembershipLookup
}

func NewPolicy(members MembershipLookup) Policy {
	return Policy{members: members}
}

func (p Policy) IsClassMember(ctx context.Context, usr user.User, cls Class) (bool, error) {
	return p.isMember(ctx, usr, cls.ID)
}

// IsAssignmentAccessible reports whether usr owns a or is a student of a's class.
func (p Policy) IsAssignmentAccessible(ctx context.Context, usr user.User, a Assignment) (bool, error) {
	if IsAssignmentOwner(usr, a) {
		return true, nil
	}
	return p.isMember(ctx, usr, a.ClassID)
}

func (p Policy) isMember(ctx context.Context, usr user.User, classID int) (bool, error) {
	if !usr.IsStudent() {
		return false, nil
	}
	return p.members.IsMember(ctx, classID, usr.ID)
}
