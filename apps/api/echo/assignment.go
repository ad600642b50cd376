package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/user"
)

type assignmentApi struct {
	opts Options
	svc  *classroom.AssignmentService
}

func registerAssignmentAPI(g *echo.Group, auth echo.MiddlewareFunc, opts Options) {
	api := assignmentApi{opts: opts, svc: opts.AssignmentSvc}
	teacherOnly := roleMiddleware(user.RoleTeacher)
	studentOnly := roleMiddleware(user.RoleStudent)

	ag := g.Group("/assignments", auth)
	ag.POST("", api.create, teacherOnly)
	ag.GET("", api.list)
	ag.PUT("/:id", api.update, teacherOnly)
	ag.DELETE("/:id", api.destroy, teacherOnly)
	ag.GET("/:id/students", api.students, teacherOnly)
	ag.GET("/:id/file", api.downloadFile)

	sg := ag.Group("/:id/submission", studentOnly)
	sg.POST("", api.submit)
	sg.PUT("", api.updateSubmission)
	sg.DELETE("", api.unsubmit)
	sg.GET("", api.submission)

	subg := g.Group("/submissions/:id", auth)
	subg.POST("/feedback", api.feedback, teacherOnly)
	subg.GET("/file", api.downloadSubmission)
}

func (api assignmentApi) create(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}

	var data classroom.NewAssignment
	classID, err := optionalInt(ctx.FormValue("class_id"), "class_id")
	if err != nil {
		return err
	}
	if classID != nil {
		data.ClassID = *classID
	}
	data.Title = ctx.FormValue("title")
	data.Description = ctx.FormValue("description")
	if data.DueAt, err = optionalTime(ctx.FormValue("due_at"), "due_at"); err != nil {
		return err
	}
	if err = validateInput(api.opts, &data); err != nil {
		return err
	}

	file, closeFile, err := formFile(ctx, "file", false)
	defer closeFile()
	if err != nil {
		return err
	}
	data.File = file

	a, err := api.svc.CreateAssignment(ctx.Request().Context(), teacher, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

// list returns a teacher's assignments (filtered by class & student) or a student's (filtered by submission state).
func (api assignmentApi) list(ctx echo.Context) error {
	usr, err := contextUser(ctx)
	if err != nil {
		return err
	}

	var views []classroom.AssignmentView
	if usr.IsTeacher() {
		var filter classroom.AssignmentFilter
		if filter.ClassID, err = optionalInt(ctx.QueryParam("class_id"), "class_id"); err != nil {
			return err
		}
		filter.StudentEmail = ctx.QueryParam("student_email")
		filter.Clean()
		views, err = api.svc.GetAssignments(ctx.Request().Context(), usr, filter)
	} else {
		submitted, perr := optionalBool(ctx.QueryParam("submitted"), "submitted")
		if perr != nil {
			return perr
		}
		views, err = api.svc.GetStudentAssignments(ctx.Request().Context(), usr, submitted)
	}
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if views == nil {
		views = []classroom.AssignmentView{}
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api assignmentApi) update(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	params, err := ctx.FormParams()
	if err != nil {
		return errors.Wrap(err, "reading form")
	}
	var data classroom.UpdateAssignment
	data.Title = params.Get("title")
	if _, ok := params["description"]; ok {
		desc := params.Get("description")
		data.Description = &desc
	}
	if data.DueAt, err = optionalTime(params.Get("due_at"), "due_at"); err != nil {
		return err
	}
	clearDue, err := optionalBool(params.Get("clear_due_at"), "clear_due_at")
	if err != nil {
		return err
	}
	data.ClearDueAt = clearDue != nil && *clearDue
	if err = validateInput(api.opts, &data); err != nil {
		return err
	}

	file, closeFile, err := formFile(ctx, "file", false)
	defer closeFile()
	if err != nil {
		return err
	}
	data.File = file

	a, err := api.svc.UpdateAssignment(ctx.Request().Context(), teacher, id, data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api assignmentApi) destroy(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAssignment(ctx.Request().Context(), teacher, id); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api assignmentApi) students(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	students, err := api.svc.GetAssignmentStudents(ctx.Request().Context(), teacher, id)
	if err != nil {
		return errors.Wrap(err, "querying assignment students")
	}
	if students == nil {
		students = []classroom.AssignmentStudent{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api assignmentApi) downloadFile(ctx echo.Context) error {
	usr, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	dl, err := api.svc.DownloadAssignmentFile(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "opening assignment file")
	}
	return sendDownload(ctx, dl)
}

// Submissions

func (api assignmentApi) submit(ctx echo.Context) error {
	student, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	file, closeFile, err := formFile(ctx, "file", true)
	defer closeFile()
	if err != nil {
		return err
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), student, id, *file)
	if err != nil {
		return errors.Wrap(err, "submitting assignment")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api assignmentApi) updateSubmission(ctx echo.Context) error {
	student, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	file, closeFile, err := formFile(ctx, "file", true)
	defer closeFile()
	if err != nil {
		return err
	}

	sub, err := api.svc.UpdateSubmission(ctx.Request().Context(), student, id, *file)
	if err != nil {
		return errors.Wrap(err, "updating submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api assignmentApi) unsubmit(ctx echo.Context) error {
	student, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.Unsubmit(ctx.Request().Context(), student, id); err != nil {
		return errors.Wrap(err, "unsubmitting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api assignmentApi) submission(ctx echo.Context) error {
	student, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	view, err := api.svc.GetSubmission(ctx.Request().Context(), student, id)
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api assignmentApi) feedback(ctx echo.Context) error {
	teacher, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	var data classroom.Feedback
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Feedback")
	}
	if err = validateInput(api.opts, &data); err != nil {
		return err
	}

	sub, err := api.svc.GiveFeedback(ctx.Request().Context(), teacher, id, data)
	if err != nil {
		return errors.Wrap(err, "giving feedback")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api assignmentApi) downloadSubmission(ctx echo.Context) error {
	usr, err := contextUser(ctx)
	if err != nil {
		return err
	}
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}
	dl, err := api.svc.DownloadSubmission(ctx.Request().Context(), usr, id)
	if err != nil {
		return errors.Wrap(err, "opening submission file")
	}
	return sendDownload(ctx, dl)
}
