package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Friendships are stored once per direction, so adding a friend makes both
// users see each other and removing drops both rows.

const (
	maxSearchName    = 50
	maxSearchResults = 20
)

var errUserNotFound = errors.New("user not found")

// publicUser is the part of a profile other users may see.
type publicUser struct {
	UserID int    `json:"user_id" db:"user_id"`
	Name   string `json:"name"    db:"name"`
}

// friend is one entry of GET /api/friends.
type friend struct {
	UserID int       `json:"user_id" db:"user_id"`
	Name   string    `json:"name"    db:"name"`
	Since  time.Time `json:"since"   db:"since"`
}

// planSummary lists a plan on a public profile without its exercises.
type planSummary struct {
	ID            int    `json:"id"             db:"id"`
	Name          string `json:"name"           db:"name"`
	ExerciseCount int    `json:"exercise_count" db:"exercise_count"`
}

// publicProfile is the response of GET /api/community/users/:id.
type publicProfile struct {
	publicUser
	StreakCount int           `json:"streak_count"`
	IsFriend    bool          `json:"is_friend"`
	Plans       []planSummary `json:"plans"`
}

type addFriendRequest struct {
	FriendID int `json:"friend_id"`
}

// communityStore reads public profiles and manages friendships.
type communityStore interface {
	searchUsers(ctx context.Context, viewerID int, pattern string) ([]publicUser, error)
	publicProfile(ctx context.Context, viewerID, userID int) (publicProfile, error)
	addFriend(ctx context.Context, userID, friendID int) (publicUser, error)
	listFriends(ctx context.Context, userID int) ([]friend, error)
	removeFriend(ctx context.Context, userID, friendID int) (bool, error)
}

// communityDB returns the configured store, defaulting to Postgres.
func (h *Handler) communityDB() communityStore {
	if h.community != nil {
		return h.community
	}
	return pgCommunityStore{db: h.db}
}

// prefixPattern turns a search term into a lower-case LIKE prefix pattern,
// escaping the wildcards the term contains with LIKE's default backslash.
func prefixPattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.ToLower(term)) + "%"
}

// validateSearchName trims the name query and checks its length.
func validateSearchName(raw string) (string, string) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "name query param is required"
	}
	if len([]rune(name)) > maxSearchName {
		return "", fmt.Sprintf("name must be at most %d characters", maxSearchName)
	}
	return name, ""
}

// parseUserID reads a positive user id from a path param.
func parseUserID(c *gin.Context, param string) (int, bool) {
	id, err := strconv.Atoi(c.Param(param))
	if err != nil || id <= 0 {
		apiError(c, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

/* ─── Postgres store ─────────────────────────────────────────────────── */

type pgCommunityStore struct {
	db *pgxpool.Pool
}

func (s pgCommunityStore) searchUsers(ctx context.Context, viewerID int, pattern string) ([]publicUser, error) {
	users, err := queryMany[publicUser](ctx, s.db,
		`SELECT user_id, name FROM user_profiles
		 WHERE lower(name) LIKE @pattern AND user_id <> @viewerID
		 ORDER BY lower(name), user_id
		 LIMIT @limit`,
		pgx.NamedArgs{"pattern": pattern, "viewerID": viewerID, "limit": maxSearchResults})
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func (s pgCommunityStore) publicProfile(ctx context.Context, viewerID, userID int) (publicProfile, error) {
	var p publicProfile
	err := s.db.QueryRow(ctx,
		`SELECT p.user_id, p.name, p.streak_count,
		        EXISTS (SELECT 1 FROM friendships f WHERE f.user_id = @viewerID AND f.friend_id = p.user_id)
		 FROM user_profiles p WHERE p.user_id = @userID`,
		pgx.NamedArgs{"viewerID": viewerID, "userID": userID}).
		Scan(&p.UserID, &p.Name, &p.StreakCount, &p.IsFriend)
	if errors.Is(err, pgx.ErrNoRows) {
		return publicProfile{}, errUserNotFound
	}
	if err != nil {
		return publicProfile{}, fmt.Errorf("public profile: %w", err)
	}

	p.Plans, err = queryMany[planSummary](ctx, s.db,
		`SELECT id, name, jsonb_array_length(exercises) AS exercise_count
		 FROM workout_plans WHERE user_id = @userID
		 ORDER BY created_at DESC, id DESC`,
		pgx.NamedArgs{"userID": userID})
	if err != nil {
		return publicProfile{}, fmt.Errorf("public plans: %w", err)
	}
	return p, nil
}

// addFriend inserts both directions in one statement; re-adding is a no-op.
func (s pgCommunityStore) addFriend(ctx context.Context, userID, friendID int) (publicUser, error) {
	other, err := queryOne[publicUser](ctx, s.db,
		"SELECT user_id, name FROM user_profiles WHERE user_id = @friendID",
		pgx.NamedArgs{"friendID": friendID})
	if errors.Is(err, pgx.ErrNoRows) {
		return publicUser{}, errUserNotFound
	}
	if err != nil {
		return publicUser{}, fmt.Errorf("load friend: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO friendships (user_id, friend_id)
		 VALUES (@userID, @friendID), (@friendID, @userID)
		 ON CONFLICT DO NOTHING`,
		pgx.NamedArgs{"userID": userID, "friendID": friendID})
	if err != nil {
		return publicUser{}, fmt.Errorf("add friend: %w", err)
	}
	return other, nil
}

func (s pgCommunityStore) listFriends(ctx context.Context, userID int) ([]friend, error) {
	friends, err := queryMany[friend](ctx, s.db,
		`SELECT p.user_id, p.name, f.created_at AS since
		 FROM friendships f JOIN user_profiles p ON p.user_id = f.friend_id
		 WHERE f.user_id = @userID
		 ORDER BY lower(p.name), p.user_id`,
		pgx.NamedArgs{"userID": userID})
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	return friends, nil
}

func (s pgCommunityStore) removeFriend(ctx context.Context, userID, friendID int) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM friendships
		 WHERE (user_id = @userID AND friend_id = @friendID)
		    OR (user_id = @friendID AND friend_id = @userID)`,
		pgx.NamedArgs{"userID": userID, "friendID": friendID})
	if err != nil {
		return false, fmt.Errorf("remove friend: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

/* ─── Handlers ───────────────────────────────────────────────────────── */

// searchUsers finds other users whose name starts with the query,
// ignoring case. GET /api/community/search?name=.
func (h *Handler) searchUsers(c *gin.Context) {
	userID := c.GetInt("user_id")
	name, msg := validateSearchName(c.Query("name"))
	if msg != "" {
		apiError(c, http.StatusBadRequest, msg)
		return
	}

	users, err := h.communityDB().searchUsers(c, userID, prefixPattern(name))
	if err != nil {
		log.WithField("user_id", userID).Errorf("[searchUsers] %v", err)
		apiError(c, http.StatusInternalServerError, "failed to search users")
		return
	}
	if users == nil {
		users = []publicUser{}
	}
	c.JSON(http.StatusOK, users)
}

// getPublicProfile shows another user's name, streak and plan list.
// GET /api/community/users/:id.
func (h *Handler) getPublicProfile(c *gin.Context) {
	viewerID := c.GetInt("user_id")
	userID, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	p, err := h.communityDB().publicProfile(c, viewerID, userID)
	switch {
	case errors.Is(err, errUserNotFound):
		apiError(c, http.StatusNotFound, "user not found")
		return
	case err != nil:
		log.WithField("user_id", viewerID).Errorf("[getPublicProfile] %v", err)
		apiError(c, http.StatusInternalServerError, "failed to fetch profile")
		return
	}
	if p.Plans == nil {
		p.Plans = []planSummary{}
	}
	c.JSON(http.StatusOK, p)
}

// addFriend links the caller and friend_id both ways.
// POST /api/friends. Body: { "friend_id": 42 }.
func (h *Handler) addFriend(c *gin.Context) {
	userID := c.GetInt("user_id")

	var body addFriendRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.FriendID <= 0 {
		apiError(c, http.StatusBadRequest, "friend_id is required")
		return
	}
	if body.FriendID == userID {
		apiError(c, http.StatusBadRequest, "cannot add yourself as a friend")
		return
	}

	other, err := h.communityDB().addFriend(c, userID, body.FriendID)
	switch {
	case errors.Is(err, errUserNotFound):
		apiError(c, http.StatusNotFound, "user not found")
		return
	case err != nil:
		log.WithField("user_id", userID).Errorf("[addFriend] %v", err)
		apiError(c, http.StatusInternalServerError, "failed to add friend")
		return
	}
	c.JSON(http.StatusCreated, other)
}

// listFriends returns the caller's friends by name. GET /api/friends.
func (h *Handler) listFriends(c *gin.Context) {
	userID := c.GetInt("user_id")

	friends, err := h.communityDB().listFriends(c, userID)
	if err != nil {
		log.WithField("user_id", userID).Errorf("[listFriends] %v", err)
		apiError(c, http.StatusInternalServerError, "failed to fetch friends")
		return
	}
	if friends == nil {
		friends = []friend{}
	}
	c.JSON(http.StatusOK, friends)
}

// removeFriend unlinks the caller and :id in both directions.
// DELETE /api/friends/:id.
func (h *Handler) removeFriend(c *gin.Context) {
	userID := c.GetInt("user_id")
	friendID, ok := parseUserID(c, "id")
	if !ok {
		return
	}

	removed, err := h.communityDB().removeFriend(c, userID, friendID)
	if err != nil {
		log.WithField("user_id", userID).Errorf("[removeFriend] %v", err)
		apiError(c, http.StatusInternalServerError, "failed to remove friend")
		return
	}
	if !removed {
		apiError(c, http.StatusNotFound, "friend not found")
		return
	}
	c.Status(http.StatusNoContent)
}
