package session

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/unihub/unihub/core"
)

var (
	roleTag  = "unihub_role"
	roleText = "role must be one of STUDENT, SUPERVISOR or ADMIN"

	universityRequiredTag  = "university_required"
	universityRequiredText = "a university is required for students and supervisors"

	pwdMismatchTag  = "pwdmismatch"
	pwdMismatchText = "passwords do not match"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to your name or email"
)

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	RegisterRequest struct {
		Name            string `json:"name" validate:"required,min=2,max=255"`
		Email           string `json:"email" validate:"required,email"`
		Password        string `json:"password" validate:"required"`
		PasswordConfirm string `json:"-"`
		Role            string `json:"role" validate:"required,unihub_role"`
		UniversityID    *int64 `json:"universityId,omitempty"`
	}

	ForgotPasswordRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	ResetPasswordRequest struct {
		Token           string `json:"token" validate:"required"`
		NewPassword     string `json:"newPassword" validate:"required"`
		PasswordConfirm string `json:"-"`
	}

	ChangePasswordRequest struct {
		OldPassword     string `json:"oldPassword" validate:"required"`
		NewPassword     string `json:"newPassword" validate:"required"`
		PasswordConfirm string `json:"-"`
	}

	ResendVerificationRequest struct {
		Email string `json:"email" validate:"required,email"`
	}
)

// InitValidators registers the session validators and their messages.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(validate, translator, roleTag, roleText)

	validate.RegisterStructValidation(passwordStructValidation, RegisterRequest{}, ResetPasswordRequest{}, ChangePasswordRequest{})
	core.RegisterCustomTranslation(validate, translator, universityRequiredTag, universityRequiredText)
	core.RegisterCustomTranslation(validate, translator, pwdMismatchTag, pwdMismatchText)
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
}

func (r *LoginRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return core.TranslateErrors(validate.Struct(r), translator)
}

func (r *RegisterRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Name = core.CleanString(r.Name)
	r.Email = core.CleanString(r.Email, true /* lower */)
	r.Role, _ = NormalizeRole(r.Role)
	return core.TranslateErrors(validate.Struct(r), translator)
}

func (r *ForgotPasswordRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return core.TranslateErrors(validate.Struct(r), translator)
}

func (r *ResendVerificationRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return core.TranslateErrors(validate.Struct(r), translator)
}

func (r *ResetPasswordRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	r.Token = core.CleanString(r.Token)
	return core.TranslateErrors(validate.Struct(r), translator)
}

func (r *ChangePasswordRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	return core.TranslateErrors(validate.Struct(r), translator)
}

// Custom Validators

func roleValidation(fl validator.FieldLevel) bool {
	_, ok := NormalizeRole(fl.Field().String())
	return ok
}

// passwordStructValidation applies the password policy and the confirmation check.
// An empty confirmation is not compared, callers that do not prompt twice leave it blank.
func passwordStructValidation(sl validator.StructLevel) {
	switch req := sl.Current().Interface().(type) {
	case RegisterRequest:
		if req.Role != RoleAdmin && req.UniversityID == nil {
			sl.ReportError(req.UniversityID, "universityId", "UniversityID", universityRequiredTag, "")
		}
		validatePassword(req.Password, req.PasswordConfirm, "password", sl, req.Name, req.Email)
	case ResetPasswordRequest:
		validatePassword(req.NewPassword, req.PasswordConfirm, "newPassword", sl)
	case ChangePasswordRequest:
		validatePassword(req.NewPassword, req.PasswordConfirm, "newPassword", sl)
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
func validatePassword(pwd, confirm, field string, sl validator.StructLevel, usrAttrs ...string) {
	if pwd == "" {
		return // reported by the required tag
	}
	reportErr := func(tag string) {
		sl.ReportError(pwd, field, field, tag, "")
	}

	if confirm != "" && confirm != pwd {
		reportErr(pwdMismatchTag)
		return
	}

	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}
	for _, char := range pwd {
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	if digitCount == pwdLen {
		reportErr(pwdNotAllNumTag)
		return
	}

	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		reportErr(pwdComplexityTag)
		return
	}

	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(strings.ToLower(pass), ""), strings.Split(strings.ToLower(usrAttr), "")).QuickRatio()
	}
	for _, attr := range usrAttrs {
		if getRatio(pwd, attr) >= pwdMaxSim {
			reportErr(pwdAttrSimTag)
			return
		}
	}
}
