package httpserver

import (
	"net/http"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"github.com/labstack/echo/v4"

	"github.com/and161185/forum-auth/internal/errs"
	"github.com/and161185/forum-auth/internal/model"
)

type roleResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	IsDefault   bool      `json:"is_default"`
	Permissions []string  `json:"permissions"`
	Description string    `json:"description"`
	UserCount   int64     `json:"user_count"`
}

func toRoleResponse(r model.Role) roleResponse {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return roleResponse{
		ID:          r.ID,
		Name:        r.Name,
		IsDefault:   r.IsDefault,
		Permissions: perms,
		Description: r.Description,
		UserCount:   r.UserCount,
	}
}

type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID *uuid.UUID `json:"role_id"` // null restores the default role
}

func (s *Server) listPermissions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.roles.PermissionGroups())
}

func (s *Server) listRoles(c echo.Context) error {
	roles, err := s.roles.ListRoles(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]roleResponse, 0, len(roles))
	for _, r := range roles {
		out = append(out, toRoleResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) updateRolePermissions(c echo.Context) error {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		return errs.Validationf("invalid role id")
	}
	var req updatePermissionsRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid body")
	}
	if req.Permissions == nil {
		return errs.Validationf("permissions is required")
	}
	role, err := s.roles.UpdateRolePermissions(c.Request().Context(), id, req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRoleResponse(*role))
}

func (s *Server) assignUserRole(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		return errs.Validationf("invalid user id")
	}
	var req assignRoleRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid body")
	}
	if err := s.roles.AssignUserRole(c.Request().Context(), userID, req.RoleID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
