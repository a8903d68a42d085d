package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kdance/registration/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// paramID parses the `:id` route param. A malformed id cannot match any object.
func paramID(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		return 0, errHttpNotFound
	}
	return id, nil
}

// queryInt parses the `name` query param, 0 when absent or malformed.
func queryInt(ctx echo.Context, name string) int {
	n, _ := strconv.Atoi(ctx.QueryParam(name))
	return n
}

// queryBool parses the `name` query param, nil when absent or malformed.
func queryBool(ctx echo.Context, name string) *bool {
	b, err := strconv.ParseBool(ctx.QueryParam(name))
	if err != nil {
		return nil
	}
	return &b
}
