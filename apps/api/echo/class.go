package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

type classApi struct {
	opts Options
	svc  *classroom.ClassService
}

func registerClassAPI(g *echo.Group, auth echo.MiddlewareFunc, opts Options) {
	api := classApi{opts: opts, svc: opts.ClassSvc}
	teacherOnly := roleMiddleware(user.RoleTeacher)

	cg := g.Group("/classes", auth)
	cg.POST("", api.create, teacherOnly)
	cg.GET("", api.list)
	cg.POST("/join", api.join, roleMiddleware(user.RoleStudent))
	cg.DELETE("/:id", api.destroy, teacherOnly)
	cg.DELETE("/:id/students/:studentId", api.removeStudent, teacherOnly)

	g.GET("/students", api.students, auth, teacherOnly)
}

func (api classApi) create(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	var data classroom.NewClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err = validateInput(api.opts, &data); err != nil {
		return err
	}

	cls, err := api.svc.CreateClass(ctx.Request().Context(), teacher, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

// list returns the classes a teacher owns or a student joined.
func (api classApi) list(ctx echo.Context) error {
	usr, err := contextUser(ctx)
	if err != nil {
		return err
	}
	var classes []classroom.ClassView
	if usr.IsTeacher() {
		classes, err = api.svc.GetTeacherClasses(ctx.Request().Context(), usr)
	} else {
		classes, err = api.svc.GetStudentClasses(ctx.Request().Context(), usr)
	}
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []classroom.ClassView{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api classApi) join(ctx echo.Context) error {
	student, err := contextUser(ctx)
	if err != nil {
		return err
	}
	var data classroom.JoinClass
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to JoinClass")
	}
	if err = validateInput(api.opts, &data); err != nil {
		return err
	}

	cls, err := api.svc.JoinClass(ctx.Request().Context(), student, data)
	if err != nil {
		return errors.Wrap(err, "joining class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api classApi) destroy(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteClass(ctx.Request().Context(), teacher, id); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api classApi) removeStudent(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	classID, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	studentID, err := pathID(ctx, "studentId")
	if err != nil {
		return err
	}
	if err = api.svc.RemoveStudent(ctx.Request().Context(), teacher, classID, studentID); err != nil {
		return errors.Wrap(err, "removing student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api classApi) students(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	var filter classroom.StudentFilter
	if filter.ClassID, err = optionalInt(ctx.QueryParam("class_id"), "class_id"); err != nil {
		return err
	}
	filter.Email = ctx.QueryParam("email")
	filter.Clean()

	students, err := api.svc.GetTeacherStudents(ctx.Request().Context(), teacher, filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []classroom.ClassStudent{}
	}
	return ctx.JSON(http.StatusOK, students)
}
