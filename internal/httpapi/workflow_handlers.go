package httpapi

import (
	"net/http"
	"strings"

	"toolcrib.org/internal/audit"
	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/workflow"
)

func (a *API) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tools, err := a.deps.Ledger.ListAvailable(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tools})
}

func parseStatus(raw string) (workflow.Status, bool) {
	if raw == "" {
		return "", true
	}
	s := workflow.Status(strings.ToUpper(raw))
	return s, s.Valid()
}

// --- tool additions (supervisor submits, officer decides) ---

type submitAdditionRequest struct {
	Name     string `json:"name"`
	Make     string `json:"make"`
	Range    string `json:"range"`
	Location string `json:"location"`
	Quantity int    `json:"quantity"`
}

func (a *API) handleAdditionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitAddition(w, r)
	case http.MethodGet:
		a.listAdditions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) submitAddition(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req submitAdditionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	desc := workflow.ToolDescriptor{
		Name:     strings.TrimSpace(req.Name),
		Make:     strings.TrimSpace(req.Make),
		Range:    strings.TrimSpace(req.Range),
		Location: strings.TrimSpace(req.Location),
	}
	addition, err := a.deps.Engine.SubmitAddition(r.Context(), desc, req.Quantity, p.User.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "workflow.addition.submit", map[string]any{
		"request_id": addition.ID,
		"tool_name":  desc.Name,
		"quantity":   req.Quantity,
	})
	writeJSON(w, http.StatusCreated, addition)
}

func (a *API) listAdditions(w http.ResponseWriter, r *http.Request) {
	status, ok := parseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}
	items, err := a.deps.Engine.ListAdditions(r.Context(), status)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleAdditionsList is the officer read of the same collection; it
// defaults to the PENDING queue.
func (a *API) handleAdditionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	status := workflow.StatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := parseStatus(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		status = s
	}
	items, err := a.deps.Engine.ListAdditions(r.Context(), status)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type reviewRequest struct {
	Remarks string `json:"remarks"`
}

func (a *API) handleAdditionAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, action, ok := splitAction(r.URL.Path, "/v1/officer/tool-additions/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	switch action {
	case "approve":
		addition, err := a.deps.Engine.ApproveAddition(r.Context(), id, p.User.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.addition.approve", map[string]any{
			"request_id": id,
		})
		writeJSON(w, http.StatusOK, addition)
	case "reject":
		var req reviewRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		addition, err := a.deps.Engine.RejectAddition(r.Context(), id, p.User.ID, req.Remarks)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.addition.reject", map[string]any{
			"request_id": id,
		})
		writeJSON(w, http.StatusOK, addition)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// --- tool usage (operator submits, supervisor decides, operator fulfils) ---

type submitUsageRequest struct {
	ToolID   string `json:"tool_id"`
	Quantity int    `json:"quantity"`
}

func (a *API) handleUsageCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitUsage(w, r)
	case http.MethodGet:
		a.listOwnUsage(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) submitUsage(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req submitUsageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	usage, err := a.deps.Engine.SubmitUsage(r.Context(), strings.TrimSpace(req.ToolID), req.Quantity, p.User.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "workflow.usage.submit", map[string]any{
		"request_id": usage.ID,
		"tool_id":    usage.ToolID,
		"quantity":   usage.Quantity,
	})
	writeJSON(w, http.StatusCreated, usage)
}

func (a *API) listOwnUsage(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	status, ok := parseStatus(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}
	items, err := a.deps.Engine.ListUsage(r.Context(), workflow.UsageFilter{
		Status:     status,
		OperatorID: p.User.ID,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleUsageList is the supervisor queue; it defaults to PENDING.
func (a *API) handleUsageList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	status := workflow.StatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := parseStatus(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
		status = s
	}
	items, err := a.deps.Engine.ListUsage(r.Context(), workflow.UsageFilter{Status: status})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleUsageReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, action, ok := splitAction(r.URL.Path, "/v1/supervisor/tool-requests/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	switch action {
	case "approve":
		usage, err := a.deps.Engine.ApproveUsage(r.Context(), id, p.User.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.usage.approve", map[string]any{
			"request_id": id,
			"tool_id":    usage.ToolID,
			"quantity":   usage.Quantity,
		})
		writeJSON(w, http.StatusOK, usage)
	case "reject":
		var req reviewRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		usage, err := a.deps.Engine.RejectUsage(r.Context(), id, p.User.ID, req.Remarks)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.usage.reject", map[string]any{
			"request_id": id,
		})
		writeJSON(w, http.StatusOK, usage)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUsageAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, action, ok := splitAction(r.URL.Path, "/v1/operator/tool-requests/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	switch action {
	case "receive":
		usage, err := a.deps.Engine.MarkReceived(r.Context(), id, p.User.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.usage.receive", map[string]any{
			"request_id": id,
		})
		writeJSON(w, http.StatusOK, usage)
	case "return":
		usage, err := a.deps.Engine.ReturnTool(r.Context(), id, p.User.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "workflow.usage.return", map[string]any{
			"request_id": id,
			"tool_id":    usage.ToolID,
			"quantity":   usage.Quantity,
		})
		writeJSON(w, http.StatusOK, usage)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// splitAction parses "<prefix><id>/<action>" resource paths.
func splitAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
