// Package packages_api is a thin JSON surface over the packages service.
package packages_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/parcelwatch/internal/models"
	"github.com/BearBump/parcelwatch/internal/services/packages"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type Service interface {
	AddPackage(ctx context.Context, code string, userID int64) (models.AddResult, error)
	ListPackages(ctx context.Context, userID int64) ([]models.PackageSummary, error)
	GetPackageDetail(ctx context.Context, packageID uint64, userID int64) (*models.PackageDetail, bool, error)
	RemovePackage(ctx context.Context, packageID uint64, userID int64) (bool, error)
}

type PackagesAPI struct {
	svc Service
}

func New(svc Service) *PackagesAPI {
	return &PackagesAPI{svc: svc}
}

type addPackageRequest struct {
	TrackingCode string `json:"tracking_code"`
}

type addPackageResponse struct {
	Added   bool              `json:"added"`
	Outcome models.AddOutcome `json:"outcome"`
	Package *models.Package   `json:"package"`
}

type packageDetailResponse struct {
	Package     *models.Package    `json:"package"`
	State       models.State       `json:"state"`
	FailureKind models.FailureKind `json:"failure_kind,omitempty"`
}

// Routes mounts the handlers under /v1/users/{userID}/packages.
func (a *PackagesAPI) Routes(r chi.Router) {
	r.Route("/v1/users/{userID}/packages", func(r chi.Router) {
		r.Post("/", a.addPackage)
		r.Get("/", a.listPackages)
		r.Get("/{packageID}", a.getPackage)
		r.Delete("/{packageID}", a.removePackage)
	})
}

func (a *PackagesAPI) addPackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req addPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := a.svc.AddPackage(r.Context(), req.TrackingCode, userID)
	if err != nil {
		a.fail(w, "add package", err)
		return
	}
	status := http.StatusCreated
	if !res.Added() {
		status = http.StatusOK
	}
	writeJSON(w, status, addPackageResponse{Added: res.Added(), Outcome: res.Outcome, Package: res.Package})
}

func (a *PackagesAPI) listPackages(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	list, err := a.svc.ListPackages(r.Context(), userID)
	if err != nil {
		a.fail(w, "list packages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": list})
}

func (a *PackagesAPI) getPackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	packageID, ok := packageIDParam(w, r)
	if !ok {
		return
	}
	d, found, err := a.svc.GetPackageDetail(r.Context(), packageID, userID)
	if err != nil {
		a.fail(w, "get package", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, packageDetailResponse{Package: d.Package, State: d.State, FailureKind: d.FailureKind})
}

func (a *PackagesAPI) removePackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	packageID, ok := packageIDParam(w, r)
	if !ok {
		return
	}
	removed, err := a.svc.RemovePackage(r.Context(), packageID, userID)
	if err != nil {
		a.fail(w, "remove package", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *PackagesAPI) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, packages.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error(op, "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal error")
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func packageIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "packageID"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid package id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
