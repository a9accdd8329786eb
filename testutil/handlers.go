package testutil

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	purposeReset  = "reset"
	purposeVerify = "verify"

	contextUserKey  = "userID"
	contextTokenKey = "token"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "Full authentication is required to access this resource")
	errBadCredentials = echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	errUnverified     = echo.NewHTTPError(http.StatusForbidden, "Please verify your email address before logging in")
	errRateLimited    = echo.NewHTTPError(http.StatusTooManyRequests, "Too many login attempts")
	errNotFound       = echo.NewHTTPError(http.StatusNotFound, "Resource not found")
	errBadToken       = echo.NewHTTPError(http.StatusBadRequest, "Invalid or expired token")
)

func (b *Backend) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		header := ctx.Request().Header.Get("Authorization")
		id, ok := b.authorize(header)
		if !ok {
			return errUnauthorized
		}
		ctx.Set(contextUserKey, id)
		ctx.Set(contextTokenKey, strings.TrimPrefix(header, "Bearer "))
		return next(ctx)
	}
}

func (b *Backend) current(ctx echo.Context) (*account, error) {
	id, _ := ctx.Get(contextUserKey).(int64)
	acc, ok := b.accounts[id]
	if !ok {
		return nil, errUnauthorized
	}
	return acc, nil
}

func (b *Backend) login(ctx echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	b.mu.Lock()
	b.loginCount++
	if b.loginLimit > 0 && b.loginCount > b.loginLimit {
		b.mu.Unlock()
		return errRateLimited
	}
	acc, ok := b.accounts[b.byEmail[strings.ToLower(req.Email)]]
	var hash []byte
	if ok {
		hash = acc.hash
	}
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
		return errBadCredentials
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !acc.verified {
		return errUnverified
	}
	acc.lastLogin = nowFunc()
	token, err := SignToken(acc.usr.ID, acc.usr.Email, acc.usr.Role, tokenTTL)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, authResponse{Token: token, User: acc.usr})
}

func (b *Backend) register(ctx echo.Context) error {
	var req struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		Role         string `json:"role"`
		UniversityID *int64 `json:"universityId"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	flds := map[string]string{}
	if len(strings.TrimSpace(req.Name)) < 2 {
		flds["name"] = "Name must be between 2 and 255 characters"
	}
	if !strings.Contains(req.Email, "@") {
		flds["email"] = "Email should be valid"
	}
	if len(req.Password) < 8 {
		flds["password"] = "Password must be at least 8 characters"
	}
	if len(flds) > 0 {
		return ctx.JSON(http.StatusBadRequest, flds)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.byEmail[strings.ToLower(req.Email)]; taken {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is already registered")
	}
	acc := b.createLocked(strings.TrimSpace(req.Name), req.Email, req.Role, req.UniversityID, hash)
	b.verificationToken = makeActionToken(purposeVerify, acc)

	resp := authResponse{User: acc.usr}
	if b.registerIssuesToken {
		if resp.Token, err = SignToken(acc.usr.ID, acc.usr.Email, acc.usr.Role, tokenTTL); err != nil {
			return err
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (b *Backend) session(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, authResponse{User: acc.usr})
}

func (b *Backend) logout(ctx echo.Context) error {
	token, _ := ctx.Get(contextTokenKey).(string)
	b.Revoke(token)
	return ctx.String(http.StatusOK, "Logged out successfully")
}

func (b *Backend) forgotPassword(ctx echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[b.byEmail[strings.ToLower(req.Email)]]; ok {
		b.resetToken = strconv.FormatInt(acc.usr.ID, 10) + "." + makeActionToken(purposeReset, acc)
	}
	// same answer whether or not the account exists
	return ctx.String(http.StatusOK, "Password reset link sent to "+req.Email)
}

// accountForToken resolves "<userID>.<token>" action tokens.
func (b *Backend) accountForToken(purpose, token string) (*account, error) {
	idPart, tok, ok := strings.Cut(token, ".")
	if !ok {
		return nil, errBadToken
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return nil, errBadToken
	}
	acc, found := b.accounts[id]
	if !found || verifyActionToken(purpose, acc, tok) != nil {
		return nil, errBadToken
	}
	return acc, nil
}

func (b *Backend) validateResetToken(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.accountForToken(purposeReset, ctx.QueryParam("token"))
	return ctx.JSON(http.StatusOK, echo.Map{"valid": err == nil})
}

func (b *Backend) resetPassword(ctx echo.Context) error {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.accountForToken(purposeReset, req.Token)
	if err != nil {
		return err
	}
	acc.hash = hash
	return ctx.String(http.StatusOK, "Password has been reset successfully")
}

func (b *Backend) verifyEmail(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := ctx.QueryParam("token")
	for _, acc := range b.accounts {
		if acc.verified {
			continue
		}
		if verifyActionToken(purposeVerify, acc, token) == nil {
			acc.verified = true
			return ctx.String(http.StatusOK, "Email verified successfully. You can now log in.")
		}
	}
	return errBadToken
}

func (b *Backend) resendVerification(ctx echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[b.byEmail[strings.ToLower(req.Email)]]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "No account found for this email")
	}
	if acc.verified {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is already verified")
	}
	b.verificationToken = makeActionToken(purposeVerify, acc)
	return ctx.String(http.StatusOK, "Verification email sent")
}

func (b *Backend) me(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, acc.usr)
}

func (b *Backend) userByID(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return errNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[id]
	if !ok {
		return errNotFound
	}
	return ctx.JSON(http.StatusOK, acc.usr)
}

func (b *Backend) updateMe(ctx echo.Context) error {
	var req struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		UniversityID *int64 `json:"universityId"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if req.Name != "" {
		acc.usr.Name = strings.TrimSpace(req.Name)
	}
	if req.Email != "" {
		email := strings.ToLower(req.Email)
		if other, taken := b.byEmail[email]; taken && other != acc.usr.ID {
			return echo.NewHTTPError(http.StatusBadRequest, "Email is already registered")
		}
		delete(b.byEmail, acc.usr.Email)
		acc.usr.Email = email
		b.byEmail[email] = acc.usr.ID
	}
	if req.UniversityID != nil {
		uni := *req.UniversityID
		acc.usr.UniversityID = &uni
		acc.usr.UniversityName = "University " + strings.Repeat("I", int(uni%4)+1)
	}
	return ctx.JSON(http.StatusOK, acc.usr)
}

func (b *Backend) changePassword(ctx echo.Context) error {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(acc.hash, []byte(req.OldPassword)) != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Current password is incorrect")
	}
	acc.hash = hash
	return ctx.String(http.StatusOK, "Password changed successfully")
}

// rankedLocked lists the members matching scope, best first.
func (b *Backend) rankedLocked(scope string, uniID int64) []User {
	usrs := make([]User, 0, len(b.accounts))
	for _, acc := range b.accounts {
		if !strings.EqualFold(scope, "GLOBAL") && (acc.usr.UniversityID == nil || *acc.usr.UniversityID != uniID) {
			continue
		}
		usrs = append(usrs, acc.usr)
	}
	sort.Slice(usrs, func(i, j int) bool {
		if usrs[i].Points != usrs[j].Points {
			return usrs[i].Points > usrs[j].Points
		}
		return usrs[i].ID < usrs[j].ID
	})
	return usrs
}

func (b *Backend) leaderboard(ctx echo.Context) error {
	scope := strings.ToUpper(ctx.QueryParam("scope"))
	if scope == "" {
		scope = "GLOBAL"
	}
	typ := strings.ToUpper(ctx.QueryParam("type"))
	if typ == "" {
		typ = "MEMBERS"
	}
	uniID, _ := strconv.ParseInt(ctx.QueryParam("universityId"), 10, 64)

	b.mu.Lock()
	defer b.mu.Unlock()
	resp := echo.Map{"scope": scope, "type": typ}
	switch typ {
	case "MEMBERS":
		resp["rankings"] = b.rankedLocked(scope, uniID)
	case "EVENTS":
		resp["rankings"] = []echo.Map{{"eventId": 1, "title": "Hackathon", "type": "COMPETITION"}}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid leaderboard type. Use MEMBERS or EVENTS")
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (b *Backend) topMembers(ctx echo.Context) error {
	limit, err := strconv.Atoi(ctx.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	uniID, _ := strconv.ParseInt(ctx.QueryParam("universityId"), 10, 64)
	scope := ctx.QueryParam("scope")
	if scope == "" {
		scope = "GLOBAL"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	usrs := b.rankedLocked(scope, uniID)
	if len(usrs) > limit {
		usrs = usrs[:limit]
	}
	return ctx.JSON(http.StatusOK, usrs)
}

func (b *Backend) topEvents(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, []echo.Map{{"eventId": 1, "title": "Hackathon", "type": "COMPETITION"}})
}

func (b *Backend) badges(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, defaultBadges)
}

func (b *Backend) myBadges(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	var earned []echo.Map
	for i, badge := range defaultBadges {
		if acc.usr.Points >= badge.PointsThreshold {
			earned = append(earned, echo.Map{"userBadgeId": i + 1, "badge": badge, "earnedAt": "2024-01-01T10:00:00Z"})
		}
	}
	current := badgeFor(acc.usr.Points)
	return ctx.JSON(http.StatusOK, echo.Map{
		"allBadges":     defaultBadges,
		"earnedBadges":  earned,
		"currentPoints": acc.usr.Points,
		"currentBadge":  current,
	})
}

func (b *Backend) notifications(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	isRead := ctx.QueryParam("isRead")
	typ := ctx.QueryParam("type")
	out := make([]Notification, 0, len(acc.notifs))
	for _, n := range acc.notifs {
		if isRead != "" && strconv.FormatBool(n.IsRead) != isRead {
			continue
		}
		if typ != "" && n.Type != typ {
			continue
		}
		out = append(out, *n)
	}
	return ctx.JSON(http.StatusOK, out)
}

func (b *Backend) unreadCount(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	count := 0
	for _, n := range acc.notifs {
		if !n.IsRead {
			count++
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"unreadCount": count})
}

func (b *Backend) markRead(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return errNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	for _, n := range acc.notifs {
		if n.ID == id {
			n.IsRead = true
			return ctx.String(http.StatusOK, "Notification marked as read")
		}
	}
	return errNotFound
}

func (b *Backend) readAll(ctx echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, err := b.current(ctx)
	if err != nil {
		return err
	}
	for _, n := range acc.notifs {
		n.IsRead = true
	}
	return ctx.String(http.StatusOK, "All notifications marked as read")
}
