package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"courier/internal/dispatch"
	"courier/internal/storage"
	logx "courier/pkg/logx"

	"github.com/go-playground/validator/v10"
)

type emailContactRequest struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body,omitempty"`
	// IdempotencyKey lets clients retry a dispatch without risking a
	// duplicate history record.
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type emailContactResponse struct {
	Email string `json:"email"`
}

type createContactRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Age   int    `json:"age" validate:"gt=0"`
}

type contactResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

type messageResponse struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleEmailContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req emailContactRequest
	if !s.decode(w, r, &req) {
		return
	}

	receipt, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		ContactID:      id,
		Subject:        req.Subject,
		Body:           req.Body,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emailContactResponse{Email: receipt.Email})
}

func (s *Server) handleFindEmails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Boundary policy: clamp rather than reject. The core passes skip
	// and take through untouched.
	skip := intParam(q.Get("skip"), 0)
	if skip < 0 {
		skip = 0
	}
	take := intParam(q.Get("take"), dispatch.DefaultTake)
	if take <= 0 {
		take = dispatch.DefaultTake
	}
	if take > s.cfg.MaxTake {
		take = s.cfg.MaxTake
	}

	msgs, err := s.history.Find(r.Context(), dispatch.Filter{
		Recipient: q.Get("to"),
		Skip:      skip,
		Take:      take,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.contacts.Create(r.Context(), storage.Contact{
		Name:  req.Name,
		Email: req.Email,
		Age:   req.Age,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContactResponse(c))
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, found, err := s.contacts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "contact does not exist"})
		return
	}
	writeJSON(w, http.StatusOK, toContactResponse(c))
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	var age *int
	if raw := r.URL.Query().Get("age"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "age must be an integer"})
			return
		}
		age = &v
	}
	list, err := s.contacts.List(r.Context(), age)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]contactResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toContactResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.contacts.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.contacts.Reset(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- helpers ----

type errorBody struct {
	Error string `json:"error"`
}

// decode parses the JSON body and runs the validation gate. A failure
// here means the dispatch core is never invoked.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		switch f.Tag() {
		case "required":
			return f.Field() + " is required"
		case "email":
			return f.Field() + " must be a valid email address"
		case "gt":
			return f.Field() + " must be greater than " + f.Param()
		default:
			return f.Field() + " is invalid"
		}
	}
	return "invalid request"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrContactNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case dispatch.IsTransport(err):
		s.log.Warn("transport failure", logx.Err(err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "delivery failed"})
	default:
		s.log.Error("internal error", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "id must be an integer"})
		return 0, false
	}
	return id, true
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func toContactResponse(c storage.Contact) contactResponse {
	return contactResponse{ID: c.ID, Name: c.Name, Email: c.Email, Age: c.Age}
}

func toMessageResponse(m storage.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		From:      m.Sender,
		To:        m.Recipient,
		Subject:   m.Subject,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}
