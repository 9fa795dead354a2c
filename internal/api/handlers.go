package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"adherence/internal/auth"
	"adherence/internal/middleware"
	"adherence/internal/models"
	"adherence/internal/util"
)

// courseView is the wire shape of a course. Nullable columns surface as
// pointers so absent values serialize as null rather than zero values.
type courseView struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Status         string     `json:"status"`
	TotalDays      int        `json:"total_days"`
	Extended       bool       `json:"extended"`
	IntakeMinute   *int       `json:"intake_minute,omitempty"`
	StartDate      *string    `json:"start_date,omitempty"`
	CurrentDay     int        `json:"current_day"`
	LateCount      int        `json:"late_count"`
	LateDates      []string   `json:"late_dates,omitempty"`
	AppealCount    int        `json:"appeal_count"`
	AppealDeadline *time.Time `json:"appeal_deadline,omitempty"`
	RemovalReason  *string    `json:"removal_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toCourseView(c models.Course) courseView {
	v := courseView{
		ID:             c.ID,
		UserID:         c.UserID,
		Status:         string(c.Status),
		TotalDays:      c.TotalDays,
		Extended:       c.Extended,
		IntakeMinute:   c.IntakeMinute,
		CurrentDay:     c.CurrentDay,
		LateCount:      c.LateCount,
		LateDates:      c.LateDates,
		AppealCount:    c.AppealCount,
		AppealDeadline: c.AppealDeadline,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.StartDate != nil {
		d := c.StartDate.Format("2006-01-02")
		v.StartDate = &d
	}
	if c.RemovalReason != nil {
		r := string(*c.RemovalReason)
		v.RemovalReason = &r
	}
	return v
}

type intakeLogView struct {
	ID              string     `json:"id"`
	CourseID        string     `json:"course_id"`
	Day             int        `json:"day"`
	Status          string     `json:"status"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	TakenAt         *time.Time `json:"taken_at,omitempty"`
	DelayMinutes    *int       `json:"delay_minutes,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	ReshootDeadline *time.Time `json:"reshoot_deadline,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toIntakeLogView(l models.IntakeLog) intakeLogView {
	return intakeLogView{
		ID:              l.ID,
		CourseID:        l.CourseID,
		Day:             l.Day,
		Status:          string(l.Status),
		ScheduledAt:     l.ScheduledAt,
		TakenAt:         l.TakenAt,
		DelayMinutes:    l.DelayMinutes,
		Confidence:      l.Confidence,
		ReshootDeadline: l.ReshootDeadline,
		CreatedAt:       l.CreatedAt,
	}
}

type createUserRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Contact   string `json:"contact" validate:"required,max=320"`
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	mgr, _ := middleware.Manager(r.Context())
	var birth *time.Time
	if req.BirthDate != "" {
		t, _ := time.ParseInLocation("2006-01-02", req.BirthDate, time.UTC)
		birth = &t
	}
	u, err := h.svc.Store().CreateUser(r.Context(), req.Name, mgr.ID, req.Contact, birth)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"id":      u.ID,
		"name":    u.Name,
		"contact": u.Contact,
	})
}

type createCourseRequest struct {
	UserID   string `json:"user_id" validate:"required,uuid4"`
	Extended bool   `json:"extended"`
}

func (h *Handlers) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCourse(r.Context(), req.UserID, req.Extended)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// The invite code is returned exactly once, at creation.
	util.WriteJSON(w, 201, map[string]any{
		"course":      toCourseView(c),
		"invite_code": c.InviteCode,
	})
}

func (h *Handlers) GetCourse(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.CourseDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	logs := make([]intakeLogView, 0, len(detail.Logs))
	for _, l := range detail.Logs {
		logs = append(logs, toIntakeLogView(l))
	}
	docs := make([]map[string]any, 0, len(detail.Documents))
	for _, d := range detail.Documents {
		docs = append(docs, map[string]any{
			"id":        d.ID,
			"kind":      d.Kind,
			"media_ref": d.MediaRef,
		})
	}
	util.WriteJSON(w, 200, map[string]any{
		"course":    toCourseView(detail.Course),
		"logs":      logs,
		"documents": docs,
	})
}

func (h *Handlers) ReissueInvite(w http.ResponseWriter, r *http.Request) {
	code, err := h.svc.ReissueInvite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"invite_code": code})
}

func (h *Handlers) ExtendCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Extend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toCourseView(c))
}

type activateRequest struct {
	InviteCode   string `json:"invite_code" validate:"required,min=8,max=64"`
	IntakeMinute int    `json:"intake_minute" validate:"min=0,max=1439"`
	StartDate    string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handlers) ActivateCourse(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, _ := time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
	c, err := h.svc.Activate(r.Context(), req.InviteCode, req.IntakeMinute, start)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toCourseView(c))
}

func (h *Handlers) RefuseCourse(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Refuse(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "refused"})
}

type submitIntakeRequest struct {
	MediaURL string `json:"media_url" validate:"required,url"`
}

func (h *Handlers) SubmitIntake(w http.ResponseWriter, r *http.Request) {
	var req submitIntakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.svc.SubmitIntake(r.Context(), chi.URLParam(r, "id"), req.MediaURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, toIntakeLogView(l))
}

func (h *Handlers) ResubmitReshoot(w http.ResponseWriter, r *http.Request) {
	var req submitIntakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	l, err := h.svc.ResubmitReshoot(r.Context(), chi.URLParam(r, "logID"), req.MediaURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toIntakeLogView(l))
}

func (h *Handlers) ConfirmReview(w http.ResponseWriter, r *http.Request) {
	mgr, _ := middleware.Manager(r.Context())
	l, err := h.svc.ConfirmReview(r.Context(), mgr.ID, chi.URLParam(r, "logID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toIntakeLogView(l))
}

func (h *Handlers) RejectReview(w http.ResponseWriter, r *http.Request) {
	mgr, _ := middleware.Manager(r.Context())
	l, err := h.svc.RejectReview(r.Context(), mgr.ID, chi.URLParam(r, "logID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toIntakeLogView(l))
}

type appealRequest struct {
	MediaURL string `json:"media_url" validate:"required,url"`
	Text     string `json:"text" validate:"max=2000"`
}

func (h *Handlers) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req appealRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.SubmitAppeal(r.Context(), chi.URLParam(r, "id"), req.MediaURL, req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toCourseView(c))
}

func (h *Handlers) ApproveAppeal(w http.ResponseWriter, r *http.Request) {
	mgr, _ := middleware.Manager(r.Context())
	c, err := h.svc.ApproveAppeal(r.Context(), mgr.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toCourseView(c))
}

func (h *Handlers) DeclineAppeal(w http.ResponseWriter, r *http.Request) {
	mgr, _ := middleware.Manager(r.Context())
	c, err := h.svc.DeclineAppeal(r.Context(), mgr.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, toCourseView(c))
}

type addDocumentRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=id_scan prescription consent other"`
	MediaRef string `json:"media_ref" validate:"required,max=1024"`
}

func (h *Handlers) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.svc.AddDocument(r.Context(), chi.URLParam(r, "id"), req.Kind, req.MediaRef)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"id":        d.ID,
		"kind":      d.Kind,
		"media_ref": d.MediaRef,
	})
}

type addReceiptRequest struct {
	MediaRef string `json:"media_ref" validate:"required,max=1024"`
	Note     string `json:"note" validate:"max=500"`
}

func (h *Handlers) AddReceipt(w http.ResponseWriter, r *http.Request) {
	var req addReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.svc.AddPaymentReceipt(r.Context(), chi.URLParam(r, "id"), req.MediaRef, req.Note)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, map[string]any{
		"id":        p.ID,
		"media_ref": p.MediaRef,
	})
}

type createManagerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Contact string `json:"contact" validate:"omitempty,max=320"`
}

func (h *Handlers) CreateManager(w http.ResponseWriter, r *http.Request) {
	var req createManagerRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, err := auth.NewToken()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	m, err := h.svc.Store().CreateManager(r.Context(), req.Name, req.Contact, hash)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// The raw token is shown once; only its hash is kept.
	util.WriteJSON(w, 201, map[string]string{
		"id":    m.ID,
		"name":  m.Name,
		"token": token,
	})
}

func (h *Handlers) ListManagers(w http.ResponseWriter, r *http.Request) {
	managers, err := h.svc.Store().ListManagers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(managers))
	for _, m := range managers {
		out = append(out, map[string]any{
			"id":         m.ID,
			"name":       m.Name,
			"contact":    m.Contact,
			"created_at": m.CreatedAt,
		})
	}
	util.WriteJSON(w, 200, map[string]any{"managers": out})
}
