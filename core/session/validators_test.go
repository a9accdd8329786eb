package session

import (
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/unihub/unihub/core"
)

func newValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate, translator
}

func errStr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func TestPasswordPolicy(t *testing.T) {
	validate, translator := newValidator()

	tests := []struct {
		name    string
		pwd     string
		confirm string
		wantErr string
	}{
		{name: "too short", pwd: "Ab1!", wantErr: "newPassword: password must contain at least 8 characters"},
		{name: "whitespace", pwd: "Abcd 123!", wantErr: "newPassword: password must not contain whitespace"},
		{name: "all numeric", pwd: "12345678", wantErr: "newPassword: password cannot be entirely numeric"},
		{name: "no special", pwd: "Abcdefg1", wantErr: "newPassword: password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"},
		{name: "no upper", pwd: "abcdef1!", wantErr: "newPassword: password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"},
		{name: "mismatch", pwd: "Str0ng!pass", confirm: "Str0ng!pas", wantErr: "newPassword: passwords do not match"},
		{name: "empty", wantErr: "newPassword: this field is required"},
		{name: "valid", pwd: "Str0ng!pass"},
		{name: "valid with confirmation", pwd: "Str0ng!pass", confirm: "Str0ng!pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ResetPasswordRequest{Token: "tok", NewPassword: tt.pwd, PasswordConfirm: tt.confirm}
			if got := errStr(req.Validate(validate, translator)); got != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestRegisterRequest_Validate(t *testing.T) {
	validate, translator := newValidator()
	uni := int64(1)

	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr string
	}{
		{
			name: "valid student",
			req:  RegisterRequest{Name: "Ada Lovelace", Email: "ada@uni.edu", Password: "Str0ng!pass", Role: "student", UniversityID: &uni},
		},
		{
			name: "admin needs no university",
			req:  RegisterRequest{Name: "Ada Lovelace", Email: "ada@uni.edu", Password: "Str0ng!pass", Role: "ADMIN"},
		},
		{
			name:    "supervisor needs a university",
			req:     RegisterRequest{Name: "Ada Lovelace", Email: "ada@uni.edu", Password: "Str0ng!pass", Role: "SUPERVISOR"},
			wantErr: "universityId: a university is required for students and supervisors",
		},
		{
			name:    "unknown role",
			req:     RegisterRequest{Name: "Ada Lovelace", Email: "ada@uni.edu", Password: "Str0ng!pass", Role: "janitor", UniversityID: &uni},
			wantErr: "role: role must be one of STUDENT, SUPERVISOR or ADMIN",
		},
		{
			name:    "password similar to name",
			req:     RegisterRequest{Name: "Grace Hopper", Email: "g@uni.edu", Password: "Gracehopper1!", Role: "STUDENT", UniversityID: &uni},
			wantErr: "password: password cannot be similar to your name or email",
		},
		{
			name:    "missing fields",
			req:     RegisterRequest{Role: "ADMIN"},
			wantErr: "email: this field is required; name: this field is required; password: this field is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if got := errStr(req.Validate(validate, translator)); got != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "student", want: RoleStudent, wantOK: true},
		{in: " Supervisor ", want: RoleSupervisor, wantOK: true},
		{in: "ADMIN", want: RoleAdmin, wantOK: true},
		{in: "dean", want: "DEAN"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeRole(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizeRole() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any-key"))
	if err != nil {
		t.Fatal(err)
	}
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("k"))

	tests := []struct {
		name   string
		token  string
		want   time.Time
		wantOK bool
	}{
		{name: "signed with an unknown key", token: signed, want: exp, wantOK: true},
		{name: "no exp claim", token: noExp},
		{name: "garbage", token: "not.a.jwt"},
		{name: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TokenExpiry(tt.token)
			if ok != tt.wantOK || !got.Equal(tt.want) {
				t.Errorf("TokenExpiry() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestUser_Merge(t *testing.T) {
	uni := int64(9)
	name := "Ada King"
	got := ada.Merge(UserPatch{Name: &name, UniversityID: &uni})

	if got.Name != name || got.UniversityID == nil || *got.UniversityID != uni {
		t.Errorf("Merge() = %+v", got)
	}
	if got.Email != ada.Email || got.Points != ada.Points {
		t.Errorf("Merge() changed untouched fields: %+v", got)
	}
	uni = 10
	if *got.UniversityID != 9 {
		t.Error("Merge() aliases the patch")
	}
}
