package mockapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

const maxPerPage = 100

// resource serves the REST collection of model M.
type resource[M any, P interface {
	*M
	record
}] struct {
	db       *bun.DB
	validate *validator.Validate
	name     string
	// search is the column matched by the q parameter.
	search string
	// filters are query parameters matched against equally named columns.
	filters []string
}

func (r *resource[M, P]) register(g *echo.Group) *echo.Group {
	rg := g.Group("/" + r.name)
	rg.GET("", r.list)
	rg.POST("", r.create)
	rg.GET("/:id", r.get)
	rg.PATCH("/:id", r.patch)
	rg.PUT("/:id", r.replace)
	rg.DELETE("/:id", r.remove)
	return rg
}

func (r *resource[M, P]) list(c echo.Context) error {
	rows := make([]M, 0)
	q := r.db.NewSelect().Model(&rows)
	if err := r.applyFilters(q, c.QueryParams()); err != nil {
		return err
	}
	if err := q.Scan(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

// applyFilters narrows q by the request parameters. Unknown parameters are
// ignored.
func (r *resource[M, P]) applyFilters(q *bun.SelectQuery, params url.Values) error {
	for _, col := range r.filters {
		if v := params.Get(col); v != "" {
			q.Where("? = ?", bun.Ident(col), v)
		}
	}
	if v := params.Get("q"); v != "" && r.search != "" {
		q.Where("? LIKE ?", bun.Ident(r.search), "%"+v+"%")
	}
	q.OrderExpr("id ASC")

	page, err := intParam(params, "page", 1)
	if err != nil {
		return err
	}
	perPage, err := intParam(params, "per_page", 0)
	if err != nil {
		return err
	}
	if perPage > 0 {
		if perPage > maxPerPage {
			perPage = maxPerPage
		}
		q.Limit(perPage).Offset((page - 1) * perPage)
	}
	return nil
}

func intParam(params url.Values, name string, def int) (int, error) {
	raw := params.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errInvalidField(name, "must be a positive integer")
	}
	return n, nil
}

func (r *resource[M, P]) find(c echo.Context) (P, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}
	m := P(new(M))
	if err := r.db.NewSelect().Model(m).Where("id = ?", id).Scan(c.Request().Context()); err != nil {
		return nil, r.notFound(err, id)
	}
	return m, nil
}

func (r *resource[M, P]) notFound(err error, id int64) error {
	if ae := toAPIError(err); ae.Status == http.StatusNotFound {
		return errNotFound(r.name, id)
	}
	return err
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errInvalidField("id", "must be a positive integer")
	}
	return id, nil
}

func (r *resource[M, P]) get(c echo.Context) error {
	m, err := r.find(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// decode merges the JSON body into m. The primary key is never taken from
// the body.
func (r *resource[M, P]) decode(c echo.Context, m P) error {
	id := m.GetID()
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errBadRequest(err.Error())
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, m); err != nil {
			return errBadRequest(err.Error())
		}
	}
	m.SetID(id)
	return r.validate.Struct(m)
}

func (r *resource[M, P]) create(c echo.Context) error {
	m := P(new(M))
	if err := r.decode(c, m); err != nil {
		return err
	}
	if _, err := r.db.NewInsert().Model(m).Exec(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (r *resource[M, P]) patch(c echo.Context) error {
	m, err := r.find(c)
	if err != nil {
		return err
	}
	if err := r.decode(c, m); err != nil {
		return err
	}
	return r.save(c, m)
}

func (r *resource[M, P]) replace(c echo.Context) error {
	cur, err := r.find(c)
	if err != nil {
		return err
	}
	m := P(new(M))
	m.SetID(cur.GetID())
	if err := r.decode(c, m); err != nil {
		return err
	}
	return r.save(c, m)
}

func (r *resource[M, P]) save(c echo.Context, m P) error {
	if _, err := r.db.NewUpdate().Model(m).WherePK().Exec(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (r *resource[M, P]) remove(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := r.db.NewDelete().Model((*M)(nil)).Where("id = ?", id).Exec(c.Request().Context())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errNotFound(r.name, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// transition returns a handler moving the status column from one of from
// to to. Records already in to answer 409.
func (r *resource[M, P]) transition(to string, from ...string) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, err := r.find(c)
		if err != nil {
			return err
		}
		var current string
		if err := r.db.NewSelect().Model((*M)(nil)).Column("status").Where("id = ?", m.GetID()).Scan(c.Request().Context(), &current); err != nil {
			return err
		}
		if current == to {
			return errConflict(singular(r.name)+" is already "+to, map[string]any{"status": current})
		}
		if len(from) > 0 && !slices.Contains(from, current) {
			return errConflict("cannot move "+singular(r.name)+" from "+current+" to "+to, map[string]any{"status": current})
		}
		if _, err := r.db.NewUpdate().Model((*M)(nil)).Set("status = ?", to).Where("id = ?", m.GetID()).Exec(c.Request().Context()); err != nil {
			return err
		}
		m, err = r.find(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, m)
	}
}
