package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/n3tuk/document-node-lock/internal/identity"
	"github.com/n3tuk/document-node-lock/internal/locking"
	"github.com/n3tuk/document-node-lock/internal/metrics"
	"github.com/n3tuk/document-node-lock/internal/model"
)

// validIDPattern defines the allowed pattern for project and lock ids.
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const (
	maxIDLength   = 256  // Maximum length for project and lock ids
	maxBodyLength = 4096 // Maximum accepted request body
)

// LockHandlers provides HTTP handlers for lock operations.
type LockHandlers struct {
	lockManager locking.LockManager
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewLockHandlers creates a new LockHandlers instance.
func NewLockHandlers(lockManager locking.LockManager, logger *zap.Logger, metrics *metrics.Metrics) *LockHandlers {
	return &LockHandlers{
		lockManager: lockManager,
		logger:      logger,
		metrics:     metrics,
	}
}

// validateID validates a project or lock id.
func validateID(id, fieldName string) error {
	if id == "" {
		return errors.New(fieldName + " is required")
	}
	if len(id) > maxIDLength {
		return errors.New(fieldName + " exceeds maximum length")
	}
	if !validIDPattern.MatchString(id) {
		return errors.New(fieldName + " contains invalid characters")
	}
	return nil
}

// resourceParams reads the resource type and id from the route. Node ids
// contain a '/', so clients send it escaped as %2F.
func resourceParams(r *http.Request) (model.ResourceType, string, error) {
	rt := model.ResourceType(chi.URLParam(r, "resourceType"))
	id, err := url.PathUnescape(chi.URLParam(r, "resourceID"))
	if err != nil {
		return "", "", errors.New("resource id is not a valid path segment")
	}
	return rt, id, nil
}

// HandleAcquire handles POST /locks requests.
// Returns:
//   - 200 OK: Lock acquired, or refreshed when already held by the caller
//   - 400 Bad Request: Invalid request body or resource
//   - 401 Unauthorized: No caller identity
//   - 403 Forbidden: Caller has no user record
//   - 404 Not Found: Node does not exist
//   - 409 Conflict: Resource, an ancestor or a descendant is locked
//   - 500 Internal Server Error: Storage or internal error
func (h *LockHandlers) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	var req model.AcquireRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyLength)).Decode(&req); err != nil {
		h.logger.Debug("Failed to decode acquire request", zap.Error(err))
		h.recordInvalid("acquire")
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, "Invalid request body")
		return
	}

	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if err := validateID(req.ProjectID, "Project id"); err != nil {
		h.recordInvalid("acquire")
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
		return
	}

	caller, ok := h.caller(w, r, "acquire")
	if !ok {
		return
	}
	lock, err := h.lockManager.AcquireLock(r.Context(), caller, req.ProjectID, req.ResourceType, req.ResourceID)
	if err != nil {
		h.respondLockError(w, "acquire", err)
		return
	}

	h.respondLock(w, http.StatusOK, "locked", "Lock acquired", lock)
}

// HandleRelease handles DELETE /locks/{lockID} requests. Releasing a lock
// that no longer exists succeeds.
func (h *LockHandlers) HandleRelease(w http.ResponseWriter, r *http.Request) {
	lockID := chi.URLParam(r, "lockID")
	if err := validateID(lockID, "Lock id"); err != nil {
		h.recordInvalid("release")
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
		return
	}

	caller, ok := h.caller(w, r, "release")
	if !ok {
		return
	}
	if err := h.lockManager.ReleaseLock(r.Context(), caller, lockID); err != nil {
		h.respondLockError(w, "release", err)
		return
	}

	h.respondJSON(w, http.StatusOK, model.LockResponse{
		Status:  "unlocked",
		Message: "Lock released",
	})
}

// HandleRefresh handles POST /locks/{lockID}/refresh requests.
func (h *LockHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	lockID := chi.URLParam(r, "lockID")
	if err := validateID(lockID, "Lock id"); err != nil {
		h.recordInvalid("refresh")
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
		return
	}

	caller, ok := h.caller(w, r, "refresh")
	if !ok {
		return
	}
	lock, err := h.lockManager.RefreshLock(r.Context(), caller, lockID)
	if err != nil {
		h.respondLockError(w, "refresh", err)
		return
	}

	h.respondLock(w, http.StatusOK, "locked", "Lock refreshed", lock)
}

// HandleGetLock handles GET /resources/{resourceType}/{resourceID}/lock.
// An unlocked resource is a 200 with status "unlocked".
func (h *LockHandlers) HandleGetLock(w http.ResponseWriter, r *http.Request) {
	rt, id, err := resourceParams(r)
	if err != nil {
		h.recordInvalid("get")
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
		return
	}

	lock, err := h.lockManager.GetLockForResource(r.Context(), rt, id)
	if err != nil {
		h.respondLockError(w, "get", err)
		return
	}
	if lock == nil {
		h.respondJSON(w, http.StatusOK, model.LockResponse{
			Status:  "unlocked",
			Message: "No active lock",
		})
		return
	}

	h.respondLock(w, http.StatusOK, "locked", "Lock exists", lock)
}

// HandleGetConflict handles GET /resources/{resourceType}/{resourceID}/conflict.
func (h *LockHandlers) HandleGetConflict(w http.ResponseWriter, r *http.Request) {
	rt, id, err := resourceParams(r)
	if err != nil {
		h.recordInvalid("conflict")
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
		return
	}

	conflict, err := h.lockManager.GetHierarchyConflict(r.Context(), rt, id)
	if err != nil {
		h.respondLockError(w, "conflict", err)
		return
	}
	if conflict == nil {
		h.respondJSON(w, http.StatusOK, model.ConflictResponse{Status: "clear"})
		return
	}

	h.respondJSON(w, http.StatusOK, model.ConflictResponse{
		Status:   "conflict",
		Conflict: conflict,
	})
}

// respondLockError translates a lock manager error into a response.
func (h *LockHandlers) respondLockError(w http.ResponseWriter, operation string, err error) {
	var locked *locking.LockedError
	switch {
	case errors.As(err, &locked):
		code := model.CodeResourceLocked
		if errors.Is(err, locking.ErrHierarchyConflict) {
			code = model.CodeHierarchyConflict
		}
		h.respondJSON(w, http.StatusConflict, model.LockResponse{
			Status:   "locked",
			Code:     code,
			Message:  err.Error(),
			Conflict: locked.Conflict,
		})
	case errors.Is(err, locking.ErrUnauthenticated):
		h.respondError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Authentication required")
	case errors.Is(err, locking.ErrUserNotFound):
		h.respondError(w, http.StatusForbidden, model.CodeUserNotFound, "User not found")
	case errors.Is(err, locking.ErrNotOwner):
		h.respondError(w, http.StatusForbidden, model.CodeNotOwner, "Lock is held by another user")
	case errors.Is(err, locking.ErrLockNotFound):
		h.respondError(w, http.StatusNotFound, model.CodeLockNotFound, "Lock not found")
	case errors.Is(err, locking.ErrNodeNotFound):
		h.respondError(w, http.StatusNotFound, model.CodeNotFound, "Node not found")
	case errors.Is(err, locking.ErrInvalidResource):
		h.respondError(w, http.StatusBadRequest, model.CodeInvalidRequest, err.Error())
	default:
		h.logger.Error("Lock operation failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, model.CodeInternal, "Internal error")
	}
}

// respondError sends an error response.
func (h *LockHandlers) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, model.LockResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// respondLock sends a lock response.
func (h *LockHandlers) respondLock(w http.ResponseWriter, status int, statusStr, message string, lock *model.Lock) {
	h.respondJSON(w, status, model.LockResponse{
		Status:  statusStr,
		Message: message,
		Lock:    lock,
	})
}

// respondJSON sends a JSON response.
func (h *LockHandlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// caller resolves the authenticated user. Without one the request is
// answered with 401 and never reaches the lock manager.
func (h *LockHandlers) caller(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	userID, err := identity.CurrentUser(r.Context())
	if err != nil {
		h.record(operation, "unauthenticated")
		h.respondLockError(w, operation, err)
		return "", false
	}
	return userID, true
}

// recordInvalid counts requests rejected before reaching the lock manager.
func (h *LockHandlers) recordInvalid(operation string) {
	h.record(operation, "invalid")
}

func (h *LockHandlers) record(operation, status string) {
	if h.metrics != nil && h.metrics.LockOperationsTotal != nil {
		h.metrics.LockOperationsTotal.WithLabelValues(operation, status).Inc()
	}
}
