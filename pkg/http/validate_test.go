package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type subscribeBody struct {
	Symbol string `json:"symbol" validate:"required,max=8"`
}

type tailQuery struct {
	Limit int `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type triggerPath struct {
	Trigger string `param:"trigger" validate:"required,oneof=teardown hidden unload"`
}

func bindContext(method, target, body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func singleError(t *testing.T, got any) ValidationError {
	t.Helper()
	errs, ok := got.([]ValidationError)
	if !ok || len(errs) != 1 {
		t.Fatalf("expected one validation error, got %#v", got)
	}
	return errs[0]
}

func TestValidateReportsJSONName(t *testing.T) {
	c := bindContext(http.MethodPost, "/api/subscribe", `{"symbol":""}`)
	ve := singleError(t, ReadAndValidateRequest(c, &subscribeBody{}))
	if ve.Field != "symbol" || ve.Code != "ERR_REQUIRED" || ve.Message != "symbol is required" {
		t.Fatalf("unexpected error %+v", ve)
	}

	c = bindContext(http.MethodPost, "/api/subscribe", `{"symbol":"FRXEURUSD_LONG"}`)
	ve = singleError(t, ReadAndValidateRequest(c, &subscribeBody{}))
	if ve.Code != "ERR_MAX" || ve.Params["max"] != "8" {
		t.Fatalf("unexpected error %+v", ve)
	}
}

func TestValidateQueryDefaultsAndBounds(t *testing.T) {
	q := &tailQuery{}
	if got := ReadAndValidateRequest(bindContext(http.MethodGet, "/api/ticks", ""), q); got != nil {
		t.Fatalf("unexpected error %v", got)
	}
	if q.Limit != 100 {
		t.Fatalf("default not applied, got %d", q.Limit)
	}

	ve := singleError(t, ReadAndValidateRequest(bindContext(http.MethodGet, "/api/ticks?limit=5000", ""), &tailQuery{}))
	if ve.Field != "limit" || ve.Code != "ERR_LTE" {
		t.Fatalf("unexpected error %+v", ve)
	}

	ve = singleError(t, ReadAndValidateRequest(bindContext(http.MethodGet, "/api/ticks?limit=abc", ""), &tailQuery{}))
	if ve.Code != "ERR_BIND" {
		t.Fatalf("expected bind error, got %+v", ve)
	}
}

func TestValidatePathParamOneOf(t *testing.T) {
	c := bindContext(http.MethodPost, "/api/lifecycle/reboot", "")
	c.SetParamNames("trigger")
	c.SetParamValues("reboot")

	ve := singleError(t, ReadAndValidateRequest(c, &triggerPath{}))
	if ve.Field != "trigger" || ve.Code != "ERR_ONEOF" {
		t.Fatalf("unexpected error %+v", ve)
	}
	opts, _ := ve.Params["options"].([]string)
	if len(opts) != 3 || opts[0] != "teardown" {
		t.Fatalf("unexpected options %v", ve.Params)
	}
}
