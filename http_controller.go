package identity

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	router "github.com/goliatone/go-router"
	"github.com/nyaruka/phonenumbers"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Controller exposes the account lifecycle as a JSON API.
type Controller struct {
	auther *Auther
	logger Logger
	debug  bool
}

// NewController creates the HTTP controller.
func NewController(auther *Auther) *Controller {
	return &Controller{
		auther: auther,
		logger: defLogger{},
	}
}

func (c *Controller) WithLogger(logger Logger) *Controller {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithDebug dumps request payloads to stdout.
func (c *Controller) WithDebug(debug bool) *Controller {
	c.debug = debug
	return c
}

// RegisterRoutes mounts the public auth routes and the protected profile
// routes.
func (c *Controller) RegisterRoutes(group RouteRegistrar) {
	protected := Protected(c.auther.TokenService())

	group.Post("/auth/signup", c.Signup)
	group.Post("/auth/login", c.Login)
	group.Post("/auth/logout", c.Logout, protected)
	group.Post("/auth/refresh", c.Refresh, protected)
	group.Post("/auth/forgot-password", c.ForgotPassword)
	group.Post("/auth/reset-password", c.ResetPassword)
	group.Post("/auth/verify-email", c.VerifyEmail)
	group.Post("/auth/send-email-verification", c.SendEmailVerification)

	group.Get("/users/me", c.Me, protected)
	group.Patch("/users/me", c.UpdateMe, protected)
}

// SignupRequest payload
type SignupRequest struct {
	FirstName string `form:"first_name" json:"first_name"`
	LastName  string `form:"last_name" json:"last_name"`
	Email     string `form:"email" json:"email"`
	Phone     string `form:"phone_number" json:"phone_number"`
	Password  string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
	)
}

func (c *Controller) Signup(ctx router.Context) error {
	payload := new(SignupRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	if c.debug {
		fmt.Println(print.MaybePrettyJSON(payload))
	}

	user, pair, err := c.auther.Signup(ctx.Context(), SignupInput{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Password:  payload.Password,
	})
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(router.StatusCreated, map[string]any{
		"user":   user.Sanitized(),
		"tokens": pair,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (c *Controller) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	user, pair, err := c.auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user":   user.Sanitized(),
		"tokens": pair,
	})
}

// RefreshRequest payload carries the refresh token for both logout and
// session rotation.
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (c *Controller) Logout(ctx router.Context) error {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return renderError(ctx, invalidTokenErr())
	}

	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	if err := c.auther.Logout(ctx.Context(), userID, payload.RefreshToken); err != nil {
		return renderError(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

func (c *Controller) Refresh(ctx router.Context) error {
	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	pair, err := c.auther.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"tokens": pair,
	})
}

// EmailRequest payload for the flows keyed by address only.
type EmailRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (c *Controller) ForgotPassword(ctx router.Context) error {
	payload := new(EmailRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	if err := c.auther.ForgotPassword(ctx.Context(), payload.Email); err != nil {
		return renderError(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	Token    string `form:"token" json:"token"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
	)
}

func (c *Controller) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	if err := c.auther.ResetPassword(ctx.Context(), payload.Token, payload.Password); err != nil {
		return renderError(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

// TokenRequest payload
type TokenRequest struct {
	Token string `form:"token" json:"token"`
}

// Validate will run validation rules
func (r TokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func (c *Controller) VerifyEmail(ctx router.Context) error {
	payload := new(TokenRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	if err := c.auther.VerifyEmail(ctx.Context(), payload.Token); err != nil {
		return renderError(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

func (c *Controller) SendEmailVerification(ctx router.Context) error {
	payload := new(EmailRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	if err := c.auther.ResendVerificationEmail(ctx.Context(), payload.Email); err != nil {
		return renderError(ctx, err)
	}

	return ctx.NoContent(router.StatusNoContent)
}

func (c *Controller) Me(ctx router.Context) error {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return renderError(ctx, invalidTokenErr())
	}

	user, err := c.auther.GetProfile(ctx.Context(), userID)
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user.Sanitized())
}

// UpdateMeRequest payload, all fields optional.
type UpdateMeRequest struct {
	FirstName *string `form:"first_name" json:"first_name"`
	LastName  *string `form:"last_name" json:"last_name"`
	Email     *string `form:"email" json:"email"`
	Phone     *string `form:"phone_number" json:"phone_number"`
	Password  *string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r UpdateMeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhoneNumberPtr)),
		validation.Field(&r.Password, validation.Length(10, 100)),
	)
}

func (c *Controller) UpdateMe(ctx router.Context) error {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return renderError(ctx, invalidTokenErr())
	}

	payload := new(UpdateMeRequest)

	if err := ctx.Bind(payload); err != nil {
		return renderError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return renderError(ctx, err)
	}

	user, err := c.auther.UpdateProfile(ctx.Context(), userID, UpdateProfileInput{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Password:  payload.Password,
	})
	if err != nil {
		return renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, user.Sanitized())
}

// ValidatePhoneNumber accepts empty values and otherwise requires a number
// libphonenumber can parse and validate.
func ValidatePhoneNumber(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, "US")
	if err != nil {
		return errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// ValidatePhoneNumberPtr is the pointer-field variant used by partial
// updates.
func ValidatePhoneNumberPtr(value any) error {
	s, ok := value.(*string)
	if !ok || s == nil {
		return nil
	}
	return ValidatePhoneNumber(*s)
}

// renderError maps rich errors to their HTTP status and a stable JSON
// envelope. Validation failures surface per-field messages.
func renderError(ctx router.Context, err error) error {
	var verr validation.Errors
	if errors.As(err, &verr) {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"message": "validation failed",
				"fields":  verr,
			},
		})
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		status := statusFromCategory(richErr.Category)
		if richErr.Code > 0 {
			status = richErr.Code
		}
		body := map[string]any{
			"message": richErr.Message,
		}
		if richErr.TextCode != "" {
			body["code"] = richErr.TextCode
		}
		return ctx.JSON(status, map[string]any{"error": body})
	}

	return ctx.JSON(router.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"message": "internal server error",
		},
	})
}

func statusFromCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return router.StatusUnauthorized
	case goerrors.CategoryConflict:
		return router.StatusConflict
	case goerrors.CategoryNotFound:
		return router.StatusNotFound
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return router.StatusBadRequest
	default:
		return router.StatusInternalServerError
	}
}
