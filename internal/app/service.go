// Package app wires the HTTP surface to the stores, the search facade
// and the realtime hub. All authorization decisions live here.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"gridspace/api/internal/auth"
	"gridspace/api/internal/authpw"
	"gridspace/api/internal/config"
	"gridspace/api/internal/grid"
	"gridspace/api/internal/rbac"
	"gridspace/api/internal/realtime"
	"gridspace/api/internal/search"
	"gridspace/api/internal/space"
	"gridspace/api/internal/store"
	"gridspace/api/internal/util"
)

// dataStore is the slice of the persistence layer the service consumes.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByAPIKey(ctx context.Context, key string) (store.User, error)

	GetSpace(ctx context.Context, spaceID string) (store.Space, error)
	CreateSpace(ctx context.Context, item store.Space) error
	UpdateSpaceFields(ctx context.Context, spaceID string, u store.SpaceUpdate) error
	DeleteSpace(ctx context.Context, spaceID string) error
	ListPublicSpaces(ctx context.Context, limit, offset int) ([]store.SpaceSummary, error)
	SearchPublicSpaces(ctx context.Context, keyword string, limit, offset int) ([]store.SpaceSummary, error)
	GetPublicSpacesByIDs(ctx context.Context, ids []string) ([]store.SpaceSummary, error)
	ListFeaturedSpaces(ctx context.Context) ([]store.SpaceSummary, error)
	ListSpacesForUser(ctx context.Context, userID string) ([]store.SpaceSummary, error)

	IsMember(ctx context.Context, spaceID, userID string) (bool, error)
	InviteParticipant(ctx context.Context, spaceID, userID string) error
	AcceptInvite(ctx context.Context, spaceID, userID string) error
	RemoveParticipant(ctx context.Context, spaceID, userID string) error
	ListParticipants(ctx context.Context, spaceID string) ([]store.Participant, error)

	AddFavorite(ctx context.Context, userID, spaceID string) error
	RemoveFavorite(ctx context.Context, userID, spaceID string) error
	IsFavorite(ctx context.Context, userID, spaceID string) (bool, error)
	ListFavorites(ctx context.Context, userID string) ([]store.SpaceSummary, error)
}

// sessionStore holds refresh tokens, keyed by token hash.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// searchService is the keyword-search facade. Indexing is best effort.
type searchService interface {
	Search(q search.Query) search.Response
	IndexSpace(rec search.SpaceRecord)
	RemoveSpace(id string)
}

// updateBroadcaster pushes "space has updated" to connected clients.
type updateBroadcaster interface {
	PublishUpdate(spaceID string, exclude *realtime.Client)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	search    searchService
	broadcast updateBroadcaster
}

func NewService(cfg config.Config, st dataStore, sessions sessionStore, passwords *authpw.Service, searchSvc searchService, broadcast updateBroadcaster) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		passwords: passwords,
		search:    searchSvc,
		broadcast: broadcast,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Session is an authenticated caller. A zero UserID means anonymous.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Anonymous() bool {
	return s.UserID == ""
}

// SignUp registers an account and signs the new user straight in.
func (s *Service) SignUp(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "username is required", nil)
	}
	if len(username) > 32 {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "username must be at most 32 characters", nil)
	}
	if len(password) < 8 {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 8 characters", nil)
	}

	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Username: username, Password: password})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "Username already taken", nil)
		}
		return Session{}, fmt.Errorf("sign up: %w", err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Username: user.Username,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken := util.NewID("rft") + util.NewID("")
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked even when the
// caller keeps a copy.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		log.Printf(`{"level":"warn","msg":"revoke rotated refresh token failed","error":%q}`, err.Error())
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Username:  claims.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// viewerTier resolves what the session is to the space. Private spaces
// are invisible to outsiders: the caller gets sql.ErrNoRows, not a 403,
// so existence is not leaked.
func (s *Service) viewerTier(ctx context.Context, sess Session, sp store.Space) (space.Tier, error) {
	tier := space.TierPublic
	if !sess.Anonymous() {
		if sess.UserID == sp.OwnerID {
			tier = space.TierOwner
		} else {
			member, err := s.store.IsMember(ctx, sp.ID, sess.UserID)
			if err != nil {
				return "", fmt.Errorf("check membership: %w", err)
			}
			if member {
				tier = space.TierMember
			}
		}
	}
	if !sp.IsPublic && tier == space.TierPublic {
		return "", sql.ErrNoRows
	}
	return tier, nil
}

func roleForTier(tier space.Tier) rbac.Role {
	switch tier {
	case space.TierOwner:
		return rbac.RoleOwner
	case space.TierMember:
		return rbac.RoleMember
	default:
		return rbac.RoleVisitor
	}
}

func parseSettings(raw json.RawMessage) space.Settings {
	settings := space.DefaultSettings()
	if len(raw) == 0 {
		return settings
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		log.Printf(`{"level":"warn","msg":"malformed space settings","error":%q}`, err.Error())
		return space.DefaultSettings()
	}
	if !space.ValidTier(settings.Permissions.GridVals) {
		settings.Permissions.GridVals = space.TierMember
	}
	return settings
}

func rawOr(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

func (s *Service) ownerName(ctx context.Context, ownerID string) string {
	owner, err := s.store.GetUserByID(ctx, ownerID)
	if err != nil {
		log.Printf(`{"level":"warn","msg":"owner lookup failed","owner_id":%q,"error":%q}`, ownerID, err.Error())
		return ""
	}
	return owner.Username
}

func summaryPayload(item store.SpaceSummary) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"description": item.Description,
		"isPublic":    item.IsPublic,
		"owner":       item.OwnerName,
		"ownerId":     item.OwnerID,
		"updatedAt":   item.UpdatedAt,
	}
}

// GetSpace returns the full space document plus the caller's computed
// permissions. With summaryOnly the JSON columns are left out.
func (s *Service) GetSpace(ctx context.Context, sess Session, spaceID string, summaryOnly bool) (map[string]any, error) {
	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	tier, err := s.viewerTier(ctx, sess, sp)
	if err != nil {
		return nil, err
	}

	settings := parseSettings(sp.Settings)
	role := roleForTier(tier)
	permissions := map[string]any{
		"type":          string(tier),
		"canView":       rbac.Can(role, rbac.ActionView),
		"canEdit":       rbac.Can(role, rbac.ActionEditSpace),
		"canEditValues": rbac.Can(role, rbac.ActionEditValues) && settings.Permissions.GridVals.Allows(tier),
	}

	isFavorited := false
	if !sess.Anonymous() {
		isFavorited, err = s.store.IsFavorite(ctx, sess.UserID, spaceID)
		if err != nil {
			return nil, fmt.Errorf("check favorite: %w", err)
		}
	}

	payload := map[string]any{
		"id":          sp.ID,
		"name":        sp.Name,
		"description": sp.Description,
		"isPublic":    sp.IsPublic,
		"featured":    sp.Featured,
		"owner":       s.ownerName(ctx, sp.OwnerID),
		"ownerId":     sp.OwnerID,
		"permissions": permissions,
		"isFavorited": isFavorited,
		"createdAt":   sp.CreatedAt,
		"updatedAt":   sp.UpdatedAt,
	}
	if !summaryOnly {
		payload["objects"] = rawOr(sp.Objects, `[]`)
		payload["grid"] = rawOr(sp.Grid, `[]`)
		payload["gridValues"] = rawOr(sp.GridValues, `[]`)
		payload["settings"] = settings
	}
	return payload, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListSpaces serves the public browse endpoint. searchType selects the
// lookup: "space_id" resolves one space by id, "keyword" runs full-text
// search, anything else pages through recently updated public spaces.
func (s *Service) ListSpaces(ctx context.Context, sess Session, searchType, query string, limit, offset int) (map[string]any, error) {
	limit, offset = normalizePage(limit, offset)

	switch searchType {
	case "space_id":
		payload, err := s.GetSpace(ctx, sess, strings.TrimSpace(query), true)
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{"spaces": []any{}, "total": 0}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"spaces": []any{payload}, "total": 1}, nil

	case "keyword":
		keyword := strings.TrimSpace(query)
		if keyword == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "query is required for keyword search", nil)
		}
		if s.search != nil {
			resp := s.search.Search(search.Query{Text: keyword, Limit: limit, Offset: offset})
			ids := make([]string, 0, len(resp.Results))
			for _, hit := range resp.Results {
				ids = append(ids, hit.ID)
			}
			summaries, err := s.store.GetPublicSpacesByIDs(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("resolve search hits: %w", err)
			}
			items := make([]any, 0, len(summaries))
			for _, item := range summaries {
				items = append(items, summaryPayload(item))
			}
			return map[string]any{"spaces": items, "total": resp.Total}, nil
		}
		summaries, err := s.store.SearchPublicSpaces(ctx, keyword, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("search spaces: %w", err)
		}
		return map[string]any{"spaces": summaryList(summaries), "total": len(summaries)}, nil

	default:
		summaries, err := s.store.ListPublicSpaces(ctx, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("list spaces: %w", err)
		}
		return map[string]any{"spaces": summaryList(summaries), "total": len(summaries)}, nil
	}
}

func summaryList(items []store.SpaceSummary) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, summaryPayload(item))
	}
	return out
}

func (s *Service) Featured(ctx context.Context) (map[string]any, error) {
	summaries, err := s.store.ListFeaturedSpaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("list featured spaces: %w", err)
	}
	return map[string]any{"spaces": summaryList(summaries)}, nil
}

// ListMine returns spaces the caller owns or participates in.
func (s *Service) ListMine(ctx context.Context, sess Session) (map[string]any, error) {
	if sess.Anonymous() {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to list your spaces", nil)
	}
	summaries, err := s.store.ListSpacesForUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list own spaces: %w", err)
	}
	return map[string]any{"spaces": summaryList(summaries)}, nil
}

// CreateSpace seeds a fresh space with an empty kit, a default-sized
// empty grid and member-tier grid value permissions.
func (s *Service) CreateSpace(ctx context.Context, sess Session, name, description string, isPublic bool) (map[string]any, error) {
	if sess.Anonymous() {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to create a space", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	compact, values := grid.Encode(grid.DefaultGrid(s.cfg.DefaultGridRows, s.cfg.DefaultGridCols))
	rawGrid, err := json.Marshal(compact)
	if err != nil {
		return nil, fmt.Errorf("encode grid: %w", err)
	}
	rawValues, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode grid values: %w", err)
	}
	rawSettings, err := json.Marshal(space.DefaultSettings())
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	sp := store.Space{
		ID:          util.NewID("spc"),
		OwnerID:     sess.UserID,
		Name:        name,
		Description: strings.TrimSpace(description),
		IsPublic:    isPublic,
		Objects:     json.RawMessage(`[]`),
		Grid:        rawGrid,
		GridValues:  rawValues,
		Settings:    rawSettings,
	}
	if err := s.store.CreateSpace(ctx, sp); err != nil {
		return nil, fmt.Errorf("create space: %w", err)
	}
	if isPublic {
		s.indexSpace(search.SpaceRecord{ID: sp.ID, Name: sp.Name, Description: sp.Description, Owner: sess.Username})
	}
	return s.GetSpace(ctx, sess, sp.ID, false)
}

// UpdateSpace applies a sparse patch after walking the authorization
// ladder: structural columns are owner-only, grid values follow the
// space's configured tier, private spaces reject outsiders outright.
func (s *Service) UpdateSpace(ctx context.Context, sess Session, spaceID string, patch space.Patch) (map[string]any, error) {
	if patch.IsEmpty() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "update carries no fields", nil)
	}

	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	tier, err := s.viewerTier(ctx, sess, sp)
	if err != nil {
		return nil, err
	}

	if patch.StructuralFields() {
		if sess.Anonymous() {
			return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to edit this space", nil)
		}
		if !rbac.Can(roleForTier(tier), rbac.ActionEditSpace) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can edit this space", nil)
		}
		if patch.Settings != nil && !space.ValidTier(patch.Settings.Permissions.GridVals) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown permission tier", map[string]any{"gridVals": patch.Settings.Permissions.GridVals})
		}
	}

	if patch.GridValues != nil {
		settings := parseSettings(sp.Settings)
		if !rbac.Can(roleForTier(tier), rbac.ActionEditValues) || !settings.Permissions.GridVals.Allows(tier) {
			if sess.Anonymous() {
				return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to edit grid values", nil)
			}
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Grid values are restricted on this space", nil)
		}
	}

	update := store.SpaceUpdate{
		Name:        patch.Name,
		Description: patch.Description,
		IsPublic:    patch.IsPublic,
		Objects:     patch.Objects,
		Grid:        patch.Grid,
		GridValues:  patch.GridValues,
	}
	if patch.Settings != nil {
		rawSettings, err := json.Marshal(patch.Settings)
		if err != nil {
			return nil, fmt.Errorf("encode settings: %w", err)
		}
		update.Settings = rawSettings
	}
	if err := s.store.UpdateSpaceFields(ctx, spaceID, update); err != nil {
		return nil, err
	}

	if patch.Name != nil || patch.Description != nil || patch.IsPublic != nil {
		s.reindexAfterUpdate(ctx, sp, patch)
	}
	if patch.TriggerSocket {
		s.publish(spaceID)
	}
	return map[string]any{"ok": true}, nil
}

// reindexAfterUpdate keeps the search index in step with the searchable
// columns. A public space that went private is dropped from the index.
func (s *Service) reindexAfterUpdate(ctx context.Context, before store.Space, patch space.Patch) {
	isPublic := before.IsPublic
	if patch.IsPublic != nil {
		isPublic = *patch.IsPublic
	}
	if !isPublic {
		s.removeFromIndex(before.ID)
		return
	}
	record := search.SpaceRecord{
		ID:          before.ID,
		Name:        before.Name,
		Description: before.Description,
		Owner:       s.ownerName(ctx, before.OwnerID),
	}
	if patch.Name != nil {
		record.Name = *patch.Name
	}
	if patch.Description != nil {
		record.Description = *patch.Description
	}
	s.indexSpace(record)
}

// DeleteSpace is destructive and re-confirms the owner's password.
func (s *Service) DeleteSpace(ctx context.Context, sess Session, spaceID, password string) error {
	if sess.Anonymous() {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to delete a space", nil)
	}
	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return err
	}
	tier, err := s.viewerTier(ctx, sess, sp)
	if err != nil {
		return err
	}
	if !rbac.Can(roleForTier(tier), rbac.ActionDelete) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete this space", nil)
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !authpw.VerifyPassword(user.PasswordHash, password) {
		return domainError(http.StatusForbidden, "PASSWORD_CONFIRMATION", "Password confirmation failed", nil)
	}

	if err := s.store.DeleteSpace(ctx, spaceID); err != nil {
		return err
	}
	s.removeFromIndex(spaceID)
	return nil
}

// InviteParticipant invites a user by username. Owner only.
func (s *Service) InviteParticipant(ctx context.Context, sess Session, spaceID, username string) (map[string]any, error) {
	sp, err := s.requireOwner(ctx, sess, spaceID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no such user", map[string]any{"username": username})
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if target.ID == sp.OwnerID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "the owner is already a participant", nil)
	}
	if err := s.store.InviteParticipant(ctx, spaceID, target.ID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, "ALREADY_INVITED", "User is already invited", nil)
		}
		return nil, fmt.Errorf("invite participant: %w", err)
	}
	return map[string]any{"ok": true, "userId": target.ID}, nil
}

// AcceptInvite flips the caller's own pending invite to accepted.
func (s *Service) AcceptInvite(ctx context.Context, sess Session, spaceID string) error {
	if sess.Anonymous() {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to accept an invite", nil)
	}
	return s.store.AcceptInvite(ctx, spaceID, sess.UserID)
}

// RemoveParticipant covers decline, leave and owner-initiated removal.
func (s *Service) RemoveParticipant(ctx context.Context, sess Session, spaceID, userID string) error {
	if sess.Anonymous() {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in first", nil)
	}
	if sess.UserID != userID {
		if _, err := s.requireOwner(ctx, sess, spaceID); err != nil {
			return err
		}
	}
	return s.store.RemoveParticipant(ctx, spaceID, userID)
}

func (s *Service) ListParticipants(ctx context.Context, sess Session, spaceID string) (map[string]any, error) {
	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	tier, err := s.viewerTier(ctx, sess, sp)
	if err != nil {
		return nil, err
	}
	if tier == space.TierPublic {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Participants are visible to members only", nil)
	}
	participants, err := s.store.ListParticipants(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	items := make([]any, 0, len(participants))
	for _, p := range participants {
		items = append(items, map[string]any{
			"userId":    p.UserID,
			"username":  p.Username,
			"status":    p.Status,
			"invitedAt": p.InvitedAt,
		})
	}
	return map[string]any{"participants": items}, nil
}

func (s *Service) requireOwner(ctx context.Context, sess Session, spaceID string) (store.Space, error) {
	if sess.Anonymous() {
		return store.Space{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in first", nil)
	}
	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return store.Space{}, err
	}
	tier, err := s.viewerTier(ctx, sess, sp)
	if err != nil {
		return store.Space{}, err
	}
	if !rbac.Can(roleForTier(tier), rbac.ActionManage) {
		return store.Space{}, domainError(http.StatusForbidden, "FORBIDDEN", "Owner only", nil)
	}
	return sp, nil
}

// AddFavorite bookmarks a space the caller can see.
func (s *Service) AddFavorite(ctx context.Context, sess Session, spaceID string) error {
	if sess.Anonymous() {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to favorite a space", nil)
	}
	sp, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return err
	}
	if _, err := s.viewerTier(ctx, sess, sp); err != nil {
		return err
	}
	return s.store.AddFavorite(ctx, sess.UserID, spaceID)
}

func (s *Service) RemoveFavorite(ctx context.Context, sess Session, spaceID string) error {
	if sess.Anonymous() {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in first", nil)
	}
	return s.store.RemoveFavorite(ctx, sess.UserID, spaceID)
}

func (s *Service) ListFavorites(ctx context.Context, sess Session) (map[string]any, error) {
	if sess.Anonymous() {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Sign in first", nil)
	}
	summaries, err := s.store.ListFavorites(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return map[string]any{"spaces": summaryList(summaries)}, nil
}

func (s *Service) publish(spaceID string) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.PublishUpdate(spaceID, nil)
}

func (s *Service) indexSpace(rec search.SpaceRecord) {
	if s.search == nil {
		return
	}
	s.search.IndexSpace(rec)
}

func (s *Service) removeFromIndex(spaceID string) {
	if s.search == nil {
		return
	}
	s.search.RemoveSpace(spaceID)
}
