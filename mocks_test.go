package identity_test

import (
	"context"
	"encoding/json"

	router "github.com/goliatone/go-router"
)

// stubContext implements router.Context for handler tests: Bind decodes the
// configured body, JSON and Status record what the handler wrote.
type stubContext struct {
	method  string
	path    string
	body    []byte
	headers map[string]string
	cookies map[string]string
	locals  map[any]any
	ctx     context.Context

	status     int
	jsonCode   int
	jsonBody   any
	sent       string
	nextCalled bool
}

func newStubContext(method, path string, body []byte) *stubContext {
	return &stubContext{
		method:  method,
		path:    path,
		body:    body,
		headers: map[string]string{},
		cookies: map[string]string{},
		locals:  map[any]any{},
		ctx:     context.Background(),
	}
}

func (m *stubContext) Next() error {
	m.nextCalled = true
	return nil
}

func (m *stubContext) Context() context.Context       { return m.ctx }
func (m *stubContext) SetContext(ctx context.Context) { m.ctx = ctx }
func (m *stubContext) Path() string                   { return m.path }
func (m *stubContext) Method() string                 { return m.method }
func (m *stubContext) Body() []byte                   { return m.body }

func (m *stubContext) Status(code int) router.Context {
	m.status = code
	return m
}

func (m *stubContext) SendString(s string) error {
	m.sent = s
	return nil
}

func (m *stubContext) Send(b []byte) error {
	m.sent = string(b)
	return nil
}

func (m *stubContext) JSON(code int, val any) error {
	m.jsonCode = code
	m.jsonBody = val
	return nil
}

func (m *stubContext) NoContent(code int) error {
	m.status = code
	return nil
}

func (m *stubContext) Render(name string, bind any, layout ...string) error { return nil }

func (m *stubContext) Redirect(path string, status ...int) error { return nil }

func (m *stubContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	return nil
}

func (m *stubContext) RedirectBack(fallback string, status ...int) error { return nil }

func (m *stubContext) SetHeader(key, val string) router.Context {
	m.headers[key] = val
	return m
}

func (m *stubContext) Header(key string) string { return m.headers[key] }

func (m *stubContext) Get(key string, defaultValue any) any {
	if v, ok := m.locals[key]; ok {
		return v
	}
	return defaultValue
}

func (m *stubContext) GetBool(key string, defaultValue bool) bool { return defaultValue }
func (m *stubContext) GetInt(key string, def int) int             { return def }
func (m *stubContext) Set(key string, val any)                    { m.locals[key] = val }

func (m *stubContext) Bind(i any) error {
	if len(m.body) == 0 {
		return nil
	}
	return json.Unmarshal(m.body, i)
}

func (m *stubContext) BindJSON(i any) error     { return m.Bind(i) }
func (m *stubContext) BindXML(i any) error      { return nil }
func (m *stubContext) BindQuery(i any) error    { return nil }
func (m *stubContext) CookieParser(i any) error { return nil }

func (m *stubContext) Cookie(cookie *router.Cookie) {
	m.cookies[cookie.Name] = cookie.Value
}

func (m *stubContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := m.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *stubContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (m *stubContext) ParamsInt(key string, defaultValue int) int { return defaultValue }

func (m *stubContext) Query(key string, defaultValue string) string { return defaultValue }

func (m *stubContext) QueryInt(key string, defaultValue int) int { return defaultValue }

func (m *stubContext) Queries() map[string]string { return map[string]string{} }

func (m *stubContext) GetString(key string, defaultValue string) string {
	if v, ok := m.headers[key]; ok {
		return v
	}
	return defaultValue
}

func (m *stubContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.locals[key] = value[0]
		return nil
	}
	return m.locals[key]
}

func (m *stubContext) OriginalURL() string { return m.path }

func (m *stubContext) OnNext(callback func() error) {}

func (m *stubContext) Referer() string { return m.headers["Referer"] }
