package middlewares_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/dbtest"
	"bitbucket.org/mmdatafocus/garment_backend/middlewares"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCorrelationId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.String(http.StatusOK, cid)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(middlewares.CorrelationHeader, "abc-123")
	w := serve(r, req)
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(middlewares.CorrelationHeader))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(middlewares.CorrelationHeader))
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dbtest.Setup(t)
	r := gin.New()
	r.Use(middlewares.ReadinessGate())
	r.GET("/api/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// redis is not connected in tests
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "service is starting", body["error"])
}

func TestRateLimiterPassesWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.UseRedis(nil)
	limiter := middlewares.NewRateLimiter(1, time.Minute)
	r := gin.New()
	r.Use(limiter.RateLimitMiddleware)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRequireUserRejectsMismatchedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Tokens")
	user, err := models.CreateUser(ctx, &models.NewUser{
		Username: "owner", Name: "Owner", Password: "secret123", Role: models.UserRoleOwner,
	})
	require.NoError(t, err)

	r := gin.New()
	r.Use(middlewares.AuthMiddleware())
	r.GET("/me", middlewares.RequireUser(), func(c *gin.Context) {
		factoryId, _ := utils.GetFactoryIdFromContext(c.Request.Context())
		c.String(http.StatusOK, factoryId+" "+middlewares.CurrentUser(c).Username)
	})

	call := func(id int, username string) *httptest.ResponseRecorder {
		token, err := utils.JwtGenerate(id, user.FactoryId, username, string(user.Role), time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return serve(r, req)
	}

	w := call(user.ID, "owner")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, user.FactoryId+" owner", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call(user.ID+1, "owner").Code)
	assert.Equal(t, http.StatusUnauthorized, call(user.ID, "nobody").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestLoadersBatchLookups(t *testing.T) {
	dbtest.Setup(t)
	_, ctx := dbtest.NewFactory(t, "Loaders")
	a := dbtest.MustLine(t, ctx, "Line A")
	b := dbtest.MustLine(t, ctx, "Line B")

	lines, errs := middlewares.GetLines(ctx, []int{b.ID, a.ID})
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "Line B", lines[0].Name)
	assert.Equal(t, "Line A", lines[1].Name)

	// unknown ids resolve to an empty placeholder
	missing, err := middlewares.GetLine(ctx, 9999)
	require.NoError(t, err)
	assert.Equal(t, 9999, missing.ID)
	assert.Empty(t, missing.Name)
}

func TestSessionWithoutRedisIsExpired(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.UseRedis(nil)
	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// no header falls through to the next credential check
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(middlewares.SessionHeader, "stale-token")
	w := serve(r, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "session expired, please sign in again", body["error"])
}
