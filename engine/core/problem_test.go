package core_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/compozy/ragrouter/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestProblem(t *testing.T) {
	t.Run("Should fill defaults", func(t *testing.T) {
		p := core.NormalizeProblem(nil)
		assert.Equal(t, http.StatusInternalServerError, p.Status)
		assert.Equal(t, "Internal Server Error", p.Title)
		assert.Equal(t, "about:blank", p.Type)
	})

	t.Run("Should keep the code but not let extras override reserved keys", func(t *testing.T) {
		p := core.NormalizeProblem(&core.Problem{
			Status: http.StatusBadRequest,
			Detail: "question is empty",
			Extras: map[string]any{"code": "EMPTY_QUESTION", "status": 999, "run_id": "r1"},
		})
		body := core.BuildProblemBody(p)
		assert.Equal(t, http.StatusBadRequest, body["status"])
		assert.Equal(t, "EMPTY_QUESTION", body["code"])
		assert.Equal(t, "r1", body["run_id"])
		assert.Equal(t, "question is empty", body["details"])
	})

	t.Run("Should build a problem from a coded error", func(t *testing.T) {
		err := core.NewError(errors.New("no route"), "INVALID_ROUTE", nil)
		p := core.ProblemFromError(http.StatusBadGateway, err)
		assert.Equal(t, http.StatusBadGateway, p.Status)
		assert.Equal(t, "INVALID_ROUTE", p.Extras["code"])
		assert.Contains(t, p.Detail, "no route")
	})
}
