package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/pinalbum/internal/album"
	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/geo"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/privacy"
)

// Coordinator is the subset of *album.Coordinator the API drives.
type Coordinator interface {
	Start(ctx context.Context, id string) (*album.Batch, error)
	NewCollection(ctx context.Context, id string) (*album.Batch, error)
	RetryFailed(ctx context.Context, id string) (*album.Batch, error)
	Cancel(ctx context.Context, id string) (bool, error)
	DeleteLocation(ctx context.Context, id string) error
	DeletePhoto(ctx context.Context, id, remoteID string) error
	State(id string) album.Phase
}

// ImageReader reads cached photo bytes.
type ImageReader interface {
	Get(key string) ([]byte, bool)
	Has(key string) bool
}

// Deps are the services behind the API.
type Deps struct {
	Album   Coordinator
	Records datastore.Interface
	Images  ImageReader
}

// Controller holds the route handlers.
type Controller struct {
	album   Coordinator
	records datastore.Interface
	images  ImageReader
	logger  logger.Logger
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlationId"`
}

type createLocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type locationResponse struct {
	*datastore.Location
	Phase string `json:"phase"`
}

type photoResponse struct {
	datastore.Photo
	HasImage bool `json:"hasImage"`
}

type batchResponse struct {
	LocationID string `json:"locationId"`
	Page       int    `json:"page"`
	Generation uint64 `json:"generation"`
	Retry      bool   `json:"retry"`
}

type createLocationResponse struct {
	Location locationResponse `json:"location"`
	Batch    batchResponse    `json:"batch"`
}

// NewController creates a controller.
func NewController(deps Deps, log logger.Logger) (*Controller, error) {
	if deps.Album == nil || deps.Records == nil || deps.Images == nil {
		return nil, errors.Newf("api controller requires album, records and images").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Controller{
		album:   deps.Album,
		records: deps.Records,
		images:  deps.Images,
		logger:  log,
	}, nil
}

// RegisterRoutes adds the location and photo routes to g.
func (c *Controller) RegisterRoutes(g *echo.Group) {
	g.GET("/locations", c.ListLocations)
	g.POST("/locations", c.CreateLocation)
	g.GET("/locations/:id", c.GetLocation)
	g.DELETE("/locations/:id", c.DeleteLocation)

	g.POST("/locations/:id/collection", c.NewCollection)
	g.POST("/locations/:id/retry", c.RetryFailed)
	g.POST("/locations/:id/cancel", c.Cancel)

	g.GET("/locations/:id/photos", c.ListPhotos)
	g.DELETE("/locations/:id/photos/:remoteId", c.DeletePhoto)
	g.GET("/locations/:id/photos/:remoteId/image", c.PhotoImage)
}

func (c *Controller) locationResponse(loc *datastore.Location) locationResponse {
	return locationResponse{Location: loc, Phase: c.album.State(loc.ID).String()}
}

func newBatchResponse(b *album.Batch) batchResponse {
	return batchResponse{
		LocationID: b.LocationID,
		Page:       b.Page,
		Generation: b.Generation,
		Retry:      b.Retry,
	}
}

// ListLocations handles GET /locations.
func (c *Controller) ListLocations(ctx echo.Context) error {
	locations, err := c.records.ListLocations(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "failed to list locations")
	}
	out := make([]locationResponse, 0, len(locations))
	for i := range locations {
		out = append(out, c.locationResponse(&locations[i]))
	}
	return ctx.JSON(http.StatusOK, out)
}

// CreateLocation handles POST /locations. The first batch starts right away.
func (c *Controller) CreateLocation(ctx echo.Context) error {
	var req createLocationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, errors.ValidationError("request body is not valid JSON"), "invalid request")
	}
	if req.Latitude == nil || req.Longitude == nil {
		return c.HandleError(ctx, errors.ValidationError("latitude and longitude are required"), "invalid request")
	}

	loc, err := datastore.NewLocation(geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude})
	if err != nil {
		return c.HandleError(ctx, err, "invalid coordinate")
	}
	rctx := ctx.Request().Context()
	if err := c.records.CreateLocation(rctx, loc); err != nil {
		return c.HandleError(ctx, err, "failed to create location")
	}

	b, err := c.album.Start(rctx, loc.ID)
	if err != nil {
		return c.HandleError(ctx, err, "location created but the first batch could not start")
	}

	c.logger.Info("location created",
		logger.String("location_id", loc.ID),
		logger.String("coordinate", loc.Coordinate().String()))
	return ctx.JSON(http.StatusAccepted, createLocationResponse{
		Location: c.locationResponse(loc),
		Batch:    newBatchResponse(b),
	})
}

// GetLocation handles GET /locations/:id.
func (c *Controller) GetLocation(ctx echo.Context) error {
	loc, err := c.records.GetLocation(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "location not available")
	}
	return ctx.JSON(http.StatusOK, c.locationResponse(loc))
}

// DeleteLocation handles DELETE /locations/:id.
func (c *Controller) DeleteLocation(ctx echo.Context) error {
	if err := c.album.DeleteLocation(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "failed to delete location")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// NewCollection handles POST /locations/:id/collection.
func (c *Controller) NewCollection(ctx echo.Context) error {
	b, err := c.album.NewCollection(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to start new collection")
	}
	return ctx.JSON(http.StatusAccepted, newBatchResponse(b))
}

// RetryFailed handles POST /locations/:id/retry.
func (c *Controller) RetryFailed(ctx echo.Context) error {
	b, err := c.album.RetryFailed(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to retry photos")
	}
	return ctx.JSON(http.StatusAccepted, newBatchResponse(b))
}

// Cancel handles POST /locations/:id/cancel.
func (c *Controller) Cancel(ctx echo.Context) error {
	cancelled, err := c.album.Cancel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to cancel batch")
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ListPhotos handles GET /locations/:id/photos.
func (c *Controller) ListPhotos(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	id := ctx.Param("id")
	if _, err := c.records.GetLocation(rctx, id); err != nil {
		return c.HandleError(ctx, err, "location not available")
	}
	photos, err := c.records.ListPhotos(rctx, id)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list photos")
	}

	out := make([]photoResponse, 0, len(photos))
	for i := range photos {
		out = append(out, photoResponse{Photo: photos[i], HasImage: c.images.Has(photos[i].CacheKey())})
	}
	return ctx.JSON(http.StatusOK, out)
}

// DeletePhoto handles DELETE /locations/:id/photos/:remoteId.
func (c *Controller) DeletePhoto(ctx echo.Context) error {
	if err := c.album.DeletePhoto(ctx.Request().Context(), ctx.Param("id"), ctx.Param("remoteId")); err != nil {
		return c.HandleError(ctx, err, "failed to delete photo")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// PhotoImage handles GET /locations/:id/photos/:remoteId/image.
func (c *Controller) PhotoImage(ctx echo.Context) error {
	photo, err := c.records.GetPhoto(ctx.Request().Context(), ctx.Param("id"), ctx.Param("remoteId"))
	if err != nil {
		return c.HandleError(ctx, err, "photo not available")
	}
	data, ok := c.images.Get(photo.CacheKey())
	if !ok {
		err := errors.Newf("image for photo %s is not cached", photo.RemoteID).
			Component("api").
			Category(errors.CategoryNotFound).
			Build()
		return c.HandleError(ctx, err, "image not available")
	}

	ctx.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=86400")
	return ctx.Blob(http.StatusOK, http.DetectContentType(data), data)
}

// StatusCode maps a service error to an HTTP status.
func StatusCode(err error) int {
	var busy *album.BusyError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.As(err, &busy), errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.Is(err, album.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func correlationID(ctx echo.Context) string {
	if id := ctx.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleError writes err as an ErrorResponse with the status StatusCode picks.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := StatusCode(err)
	resp := ErrorResponse{
		Error:         privacy.ScrubMessage(err.Error()),
		Message:       message,
		Code:          code,
		CorrelationID: correlationID(ctx),
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Debug("API error", fields...)
	}
	return ctx.JSON(code, resp)
}

// httpErrorHandler renders errors returned outside the handlers, such as
// unknown routes, in the same JSON shape.
func (c *Controller) httpErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	message := http.StatusText(StatusCode(err))
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			message = m
		}
	}
	if herr := c.HandleError(ctx, err, message); herr != nil {
		c.logger.Warn("failed to write error response", logger.Error(herr))
	}
}
